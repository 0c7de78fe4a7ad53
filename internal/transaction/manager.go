package transaction

import (
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/store"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// NewManager creates the tblTransactions store manager backed by repo.
func NewManager(repo Repository, policy store.RetryPolicy, logger *logging.Logger) *store.Manager[update.Payload, Transaction] {
	return store.NewManager(Responsibility, store.Strategy[update.Payload, Transaction]{
		Map:     Map,
		Persist: repo.Upsert,
		Key:     (*Transaction).Key,
	}, policy, logger)
}
