package atomiq

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockTransport keeps bridges in memory and advances them only through
// explicit mutations, so tests and credential-less development get
// deterministic behavior.
type MockTransport struct {
	// Now is the clock fixtures are stamped with. Nil means time.Now.
	Now func() time.Time
	// ExecuteStatus is the provider status reported right after
	// ExecuteBridge. Empty means "bridging".
	ExecuteStatus string

	mu      sync.Mutex
	seq     int
	bridges map[string]ProviderBridgeStatus
}

var _ Transport = &MockTransport{}

// NewMockTransport returns an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{bridges: make(map[string]ProviderBridgeStatus)}
}

func (m *MockTransport) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockTransport) CreateBridge(req ProviderBridgeRequest) (ProviderBridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("bridge_%08d", m.seq)
	m.bridges[id] = ProviderBridgeStatus{
		ID:     id,
		Status: "pending",
	}
	return ProviderBridge{
		ID:        id,
		Status:    "created",
		CreatedAt: m.now(),
	}, nil
}

func (m *MockTransport) GetBridgeStatus(id string) (ProviderBridgeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.bridges[id]
	if !ok {
		return ProviderBridgeStatus{}, errors.Errorf("no such bridge: %s", id)
	}
	return status, nil
}

func (m *MockTransport) ExecuteBridge(id string) (ProviderBridgeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.bridges[id]
	if !ok {
		return ProviderBridgeStatus{}, errors.Errorf("no such bridge: %s", id)
	}

	next := m.ExecuteStatus
	if next == "" {
		next = "bridging"
	}
	status.Status = next

	// derive a reproducible tx hash from the bridge id
	hash := sha256.Sum256([]byte("starknet:" + id))
	status.StarknetTxHash = "0x" + hex.EncodeToString(hash[:])

	m.bridges[id] = status
	return status, nil
}

func (m *MockTransport) CancelBridge(id string) error {
	return m.SetStatus(id, "failed")
}

// SetStatus overrides the stored provider status string for a bridge.
func (m *MockTransport) SetStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bridge, ok := m.bridges[id]
	if !ok {
		return errors.Errorf("no such bridge: %s", id)
	}
	bridge.Status = status
	m.bridges[id] = bridge
	return nil
}

// CompleteBridge marks a mock bridge as completed with the given number
// of confirmations.
func (m *MockTransport) CompleteBridge(id string, confirmations int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bridge, ok := m.bridges[id]
	if !ok {
		return errors.Errorf("no such bridge: %s", id)
	}
	bridge.Status = "completed"
	bridge.Confirmations = confirmations
	m.bridges[id] = bridge
	return nil
}
