package flows

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore is a Store backed by a mutex-guarded map. It is the store
// used in tests and when running without a database; records do not
// survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) SaveFlow(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.InvoiceID]; ok {
		return errors.Errorf("flow for invoice %s already exists", record.InvoiceID)
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.InvoiceID] = record
	return nil
}

func (s *MemoryStore) GetByInvoiceID(invoiceID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[invoiceID]
	if !ok {
		return Record{}, ErrFlowNotFound
	}
	return record, nil
}

func (s *MemoryStore) GetByBridgeID(bridgeID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.BridgeID == bridgeID {
			return record, nil
		}
	}
	return Record{}, ErrFlowNotFound
}

func (s *MemoryStore) MarkProcessed(invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[invoiceID]
	if !ok {
		return false, ErrFlowNotFound
	}
	if record.Processed {
		return false, nil
	}
	record.Processed = true
	record.UpdatedAt = time.Now()
	s.records[invoiceID] = record
	return true, nil
}

func (s *MemoryStore) ResetProcessed(invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[invoiceID]
	if !ok {
		return ErrFlowNotFound
	}
	record.Processed = false
	record.UpdatedAt = time.Now()
	s.records[invoiceID] = record
	return nil
}

func (s *MemoryStore) UpdateStatus(invoiceID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[invoiceID]
	if !ok {
		return ErrFlowNotFound
	}
	if !CanTransition(record.Status, status) {
		return errors.Errorf("invalid flow transition %s -> %s", record.Status, status)
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	s.records[invoiceID] = record
	return nil
}
