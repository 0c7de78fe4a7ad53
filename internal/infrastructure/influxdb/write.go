package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementUpdateOutcomes is the measurement update outcomes are written to.
const MeasurementUpdateOutcomes = "update_outcomes"

// RecordOutcome writes one settled update. The write is non-blocking; data
// is batched and sent asynchronously.
//
// Parameters:
//   - payloadType: Responsibility tag of the update (e.g. "tblTransactions")
//   - outcome: Settlement outcome ("success", "requeue", "reject")
//   - d: Time spent processing the update
func (c *Client) RecordOutcome(payloadType, outcome string, d time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(outcomePoint(payloadType, outcome, d, c.now()))
}

func outcomePoint(payloadType, outcome string, d time.Duration, at time.Time) *write.Point {
	if payloadType == "" {
		payloadType = "unknown"
	}
	return write.NewPoint(
		MeasurementUpdateOutcomes,
		map[string]string{
			"payload_type": payloadType,
			"outcome":      outcome,
		},
		map[string]interface{}{
			"count":       1,
			"duration_ms": float64(d) / float64(time.Millisecond),
		},
		at,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
