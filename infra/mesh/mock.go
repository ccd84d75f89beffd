package mesh

import (
	"sync"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/transport"
)

// MockTransport is an in-memory transport used in tests.
type MockTransport struct {
	mu      sync.Mutex
	sent    map[string][][]byte
	handler transport.Handler
	// FailUnits makes Send report a link outage for the listed units.
	FailUnits map[string]bool
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		sent:      make(map[string][][]byte),
		FailUnits: make(map[string]bool),
	}
}

// Send records the payload or simulates an outage for failing units.
func (m *MockTransport) Send(unitID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUnits[unitID] {
		return transport.ErrNotConnected
	}
	cp := append([]byte(nil), payload...)
	m.sent[unitID] = append(m.sent[unitID], cp)
	return nil
}

// SetHandler registers the receive callback.
func (m *MockTransport) SetHandler(h transport.Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Close implements transport.Transport.
func (m *MockTransport) Close() error { return nil }

// Receive injects an inbound frame as if it arrived from the mesh.
func (m *MockTransport) Receive(frame []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

// SentTo returns the payloads sent to the unit so far.
func (m *MockTransport) SentTo(unitID string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([][]byte, len(m.sent[unitID]))
	copy(res, m.sent[unitID])
	return res
}
