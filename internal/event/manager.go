package event

import (
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/store"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// NewManager creates the tblEvents store manager backed by repo.
func NewManager(repo Repository, policy store.RetryPolicy, logger *logging.Logger) *store.Manager[update.Payload, Event] {
	return store.NewManager(Responsibility, store.Strategy[update.Payload, Event]{
		Map:     Map,
		Persist: repo.Upsert,
		Key:     (*Event).Key,
	}, policy, logger)
}
