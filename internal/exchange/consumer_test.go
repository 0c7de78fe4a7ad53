package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wellsite-core/internal/update"
)

type processCall struct {
	env           *update.Envelope
	correlationID string
}

// scriptedProcess returns outcomes by payload type and records calls.
type scriptedProcess struct {
	mu       sync.Mutex
	outcomes map[string]update.Outcome
	calls    []processCall
	block    chan struct{}
}

func (p *scriptedProcess) Process(_ context.Context, env *update.Envelope, correlationID string) update.Outcome {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, processCall{env: env, correlationID: correlationID})
	if env.PayloadType == "panic" {
		panic("processor exploded")
	}
	if o, ok := p.outcomes[env.PayloadType]; ok {
		return o
	}
	return update.Success
}

func (p *scriptedProcess) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// startConsumer runs a consumer until the test ends and waits for both
// subscriptions.
func startConsumer(t *testing.T, broker *fakeBroker, process ProcessFunc) (*Consumer, context.CancelFunc, <-chan error) {
	t.Helper()
	return startConsumerWithSettler(t, broker, nil, process)
}

func startConsumerWithSettler(t *testing.T, broker *fakeBroker, settler Settler, process ProcessFunc) (*Consumer, context.CancelFunc, <-chan error) {
	t.Helper()

	topo, err := NewTopology(testTopologyConfig(), "site-001")
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	c := NewConsumer(ConsumerConfig{
		Name:           "consumer-0",
		Prefetch:       2,
		QoS:            1,
		SettleInterval: time.Millisecond,
	}, broker, settler, topo, process, nil)
	c.newID = func() string { return "minted-id" }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-broker.subscribedSig:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not subscribe")
		}
	}
	t.Cleanup(cancel)
	return c, cancel, done
}

func envelopeBody(t *testing.T, env update.Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func waitAck(t *testing.T, acked <-chan struct{}) {
	t.Helper()
	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not acknowledged")
	}
}

func TestConsumer_SettlesOutcomes(t *testing.T) {
	broker := newFakeBroker()
	proc := &scriptedProcess{outcomes: map[string]update.Outcome{
		"tblEvents":       update.Success,
		"tblTransactions": update.Requeue,
		"tblNodeMaster":   update.Reject,
	}}
	c, _, _ := startConsumer(t, broker, proc.Process)
	topo := c.topology

	if c.State() != StateConsuming {
		t.Errorf("State() = %v, want consuming", c.State())
	}

	acked := make(chan struct{}, 4)
	ack := func() { acked <- struct{}{} }

	t.Run("success acks", func(t *testing.T) {
		body := envelopeBody(t, update.Envelope{CorrelationID: "c-1", PayloadType: "tblEvents", Payload: "{}"})
		if err := broker.deliver(topo.QueueFilter(), "wellsite.updates/update", body, ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)
	})

	t.Run("requeue republishes to the queue's requeue topic", func(t *testing.T) {
		body := envelopeBody(t, update.Envelope{PayloadType: "tblTransactions", Payload: "{}"})
		if err := broker.deliver(topo.QueueFilter(), "wellsite.updates/update", body, ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)

		requeued := broker.publishedOn(topo.RequeueTopic())
		if len(requeued) != 1 {
			t.Fatalf("requeued = %d, want 1", len(requeued))
		}
		env, err := update.DecodeEnvelope(requeued[0].payload)
		if err != nil {
			t.Fatalf("decode requeued: %v", err)
		}
		if env.CorrelationID != "minted-id" {
			t.Errorf("requeued correlation id = %q, want minted-id", env.CorrelationID)
		}
	})

	t.Run("reject publishes a dead letter", func(t *testing.T) {
		body := envelopeBody(t, update.Envelope{CorrelationID: "c-3", PayloadType: "tblNodeMaster", Payload: "{}"})
		if err := broker.deliver(topo.RequeueFilter(), topo.RequeueTopic(), body, ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)

		dead := broker.publishedOn(topo.DeadLetterTopic())
		if len(dead) != 1 {
			t.Fatalf("dead letters = %d, want 1", len(dead))
		}
		var dl DeadLetter
		if err := json.Unmarshal(dead[0].payload, &dl); err != nil {
			t.Fatalf("decode dead letter: %v", err)
		}
		if dl.CorrelationID != "c-3" || dl.PayloadType != "tblNodeMaster" || dl.Queue != topo.Queue {
			t.Errorf("dead letter = %+v", dl)
		}
		if string(dl.Body) != string(body) {
			t.Errorf("dead letter body = %s, want original", dl.Body)
		}
	})

	t.Run("undecodable envelope is rejected without processing", func(t *testing.T) {
		before := proc.callCount()
		if err := broker.deliver(topo.QueueFilter(), "wellsite.updates/update", []byte("not json"), ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)

		if proc.callCount() != before {
			t.Error("processor invoked for undecodable envelope")
		}
		if got := len(broker.publishedOn(topo.DeadLetterTopic())); got != 2 {
			t.Errorf("dead letters = %d, want 2", got)
		}
	})

	t.Run("panic is rejected", func(t *testing.T) {
		body := envelopeBody(t, update.Envelope{CorrelationID: "c-5", PayloadType: "panic"})
		if err := broker.deliver(topo.QueueFilter(), "wellsite.updates/update", body, ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)
		if got := len(broker.publishedOn(topo.DeadLetterTopic())); got != 3 {
			t.Errorf("dead letters = %d, want 3", got)
		}
	})
}

func TestConsumer_SettleFailureLeavesUnacked(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errors.New("broker down")
	proc := &scriptedProcess{outcomes: map[string]update.Outcome{"tblEvents": update.Reject}}
	c, cancel, done := startConsumer(t, broker, proc.Process)

	acked := make(chan struct{}, 1)
	body := envelopeBody(t, update.Envelope{CorrelationID: "c-1", PayloadType: "tblEvents"})
	if err := broker.deliver(c.topology.QueueFilter(), "wellsite.updates/update", body, func() { acked <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for proc.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	select {
	case <-acked:
		t.Error("message acknowledged although dead-letter publish failed")
	default:
	}
	broker.mu.Lock()
	calls := broker.publishCalls
	broker.mu.Unlock()
	if calls != defaultSettleAttempts {
		t.Errorf("publish attempts = %d, want %d", calls, defaultSettleAttempts)
	}
}

func TestConsumer_SettleRetriesTransientFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.failPublishes = 2
	proc := &scriptedProcess{outcomes: map[string]update.Outcome{"tblEvents": update.Reject}}
	c, _, _ := startConsumer(t, broker, proc.Process)

	acked := make(chan struct{}, 1)
	body := envelopeBody(t, update.Envelope{CorrelationID: "c-1", PayloadType: "tblEvents"})
	if err := broker.deliver(c.topology.QueueFilter(), "wellsite.updates/update", body, func() { acked <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	waitAck(t, acked)

	if got := len(broker.publishedOn(c.topology.DeadLetterTopic())); got != 1 {
		t.Errorf("dead letters = %d, want 1", got)
	}
}

func TestConsumer_SettlesThroughSeparateConnection(t *testing.T) {
	subscriber := newFakeBroker()
	settler := newFakeBroker()
	proc := &scriptedProcess{outcomes: map[string]update.Outcome{
		"tblTransactions": update.Requeue,
		"tblNodeMaster":   update.Reject,
	}}
	c, _, _ := startConsumerWithSettler(t, subscriber, settler, proc.Process)
	topo := c.topology

	acked := make(chan struct{}, 2)
	ack := func() { acked <- struct{}{} }
	for _, payloadType := range []string{"tblTransactions", "tblNodeMaster"} {
		body := envelopeBody(t, update.Envelope{CorrelationID: "c-" + payloadType, PayloadType: payloadType})
		if err := subscriber.deliver(topo.QueueFilter(), "wellsite.updates/update", body, ack); err != nil {
			t.Fatal(err)
		}
		waitAck(t, acked)
	}

	if got := len(settler.publishedOn(topo.RequeueTopic())); got != 1 {
		t.Errorf("settler requeues = %d, want 1", got)
	}
	if got := len(settler.publishedOn(topo.DeadLetterTopic())); got != 1 {
		t.Errorf("settler dead letters = %d, want 1", got)
	}
	subscriber.mu.Lock()
	defer subscriber.mu.Unlock()
	if subscriber.publishCalls != 0 {
		t.Errorf("subscribing connection published %d times, want 0", subscriber.publishCalls)
	}
}

func TestConsumer_ShutdownFinishesInFlight(t *testing.T) {
	broker := newFakeBroker()
	proc := &scriptedProcess{block: make(chan struct{})}
	c, cancel, done := startConsumer(t, broker, proc.Process)
	topo := c.topology

	acked := make(chan struct{}, 2)
	ack := func() { acked <- struct{}{} }

	for _, id := range []string{"c-1", "c-2"} {
		body := envelopeBody(t, update.Envelope{CorrelationID: id, PayloadType: "tblEvents"})
		if err := broker.deliver(topo.QueueFilter(), "wellsite.updates/update", body, ack); err != nil {
			t.Fatal(err)
		}
	}

	// The first message is blocked inside Process; cancel, then release it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(proc.block)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	waitAck(t, acked)
	waitAck(t, acked)

	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
	if len(broker.unsubscribed) != 2 {
		t.Errorf("unsubscribed = %v, want both filters", broker.unsubscribed)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestConsumer_SubscribeFailure(t *testing.T) {
	broker := newFakeBroker()
	topo, err := NewTopology(testTopologyConfig(), "site-001")
	if err != nil {
		t.Fatal(err)
	}
	broker.subscribeErr[topo.RequeueFilter()] = errors.New("not authorised")

	c := NewConsumer(ConsumerConfig{Name: "consumer-0"}, broker, nil, topo, (&scriptedProcess{}).Process, nil)
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want subscribe failure")
	}
	if len(broker.unsubscribed) != 1 || broker.unsubscribed[0] != topo.QueueFilter() {
		t.Errorf("unsubscribed = %v, want queue filter cleaned up", broker.unsubscribed)
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateIdle: "idle", StateConnected: "connected", StateConsuming: "consuming",
		StateDraining: "draining", StateStopped: "stopped", State(9): "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
