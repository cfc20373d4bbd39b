package settlement

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"remit/apps/remit/internal/model"
)

// memoryStore is an in-memory Store and OperationLog that records every status change.
type memoryStore struct {
	mu          sync.Mutex
	transfers   map[string]*model.Transfer
	history     map[string][]model.Status
	updates     map[string][]model.StatusUpdate
	submissions map[string][]string
	flagged     map[string]string
	ops         []model.OperationRecord
}

func newMemoryStore(transfers ...*model.Transfer) *memoryStore {
	s := &memoryStore{
		transfers:   make(map[string]*model.Transfer),
		history:     make(map[string][]model.Status),
		updates:     make(map[string][]model.StatusUpdate),
		submissions: make(map[string][]string),
		flagged:     make(map[string]string),
	}
	for _, t := range transfers {
		copied := *t
		s.transfers[t.ID] = &copied
		s.history[t.ID] = []model.Status{t.Status}
	}
	return s
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.transfers[id]
	if !exists {
		return nil, model.ErrTransferNotFound
	}
	copied := *t
	return &copied, nil
}

func canTransition(from, to model.Status) bool {
	return slices.Contains(model.AllowedFrom(to), from)
}

func (s *memoryStore) ClaimForProcessing(_ context.Context, id string, version int64) (*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.transfers[id]
	if !exists {
		return nil, model.ErrTransferNotFound
	}
	if t.Version != version || !canTransition(t.Status, model.StatusProcessing) {
		return nil, model.ErrStaleTransfer
	}

	model.StatusUpdate{}.Apply(t, model.StatusProcessing, time.Now())
	s.history[id] = append(s.history[id], model.StatusProcessing)
	copied := *t
	return &copied, nil
}

func (s *memoryStore) RecordSubmission(_ context.Context, id, txHash, explorerURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.transfers[id]
	if !exists {
		return model.ErrTransferNotFound
	}
	if t.Status != model.StatusProcessing {
		return model.ErrInvalidTransition
	}
	t.TxHash = &txHash
	t.BlockchainTxURL = &explorerURL
	s.submissions[id] = append(s.submissions[id], txHash)
	return nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id string, status model.Status, update model.StatusUpdate) (*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.transfers[id]
	if !exists {
		return nil, model.ErrTransferNotFound
	}
	if !canTransition(t.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.Status, status)
	}

	update.Apply(t, status, time.Now())
	s.history[id] = append(s.history[id], status)
	s.updates[id] = append(s.updates[id], update)
	copied := *t
	return &copied, nil
}

func (s *memoryStore) MarkForReconciliation(_ context.Context, id, reason string) (*model.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.transfers[id]
	if !exists {
		return nil, model.ErrTransferNotFound
	}
	if t.Status != model.StatusProcessing {
		return nil, model.ErrInvalidTransition
	}
	t.NeedsReconciliation = true
	s.flagged[id] = reason
	copied := *t
	return &copied, nil
}

func (s *memoryStore) Append(_ context.Context, op model.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return nil
}

func (s *memoryStore) statusHistory(id string) []model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Status(nil), s.history[id]...)
}

func (s *memoryStore) operations() []model.OperationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OperationRecord(nil), s.ops...)
}

func (s *memoryStore) lastUpdate(id string) model.StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.updates[id]
	if len(updates) == 0 {
		return model.StatusUpdate{}
	}
	return updates[len(updates)-1]
}
