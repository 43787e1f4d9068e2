// Package testutil provides in-memory fakes shared across package tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/battery-gate/backend/policy"
	"github.com/onnwee/battery-gate/backend/quota"
)

// Clock returns a UTC instant with the given calendar fields; the challenge
// code and reset logic only ever look at month, day, and hour.
func Clock(month time.Month, day, hour int) time.Time {
	return time.Date(2025, month, day, hour, 30, 0, 0, time.UTC)
}

// MemPolicyStore is an in-memory policy.Persistence with error injection.
type MemPolicyStore struct {
	mu      sync.Mutex
	Rooms   map[string]policy.RoomPolicy
	Saves   int
	FailOps bool // when true, Load and Save return ErrInjected
}

// ErrInjected is returned by MemPolicyStore when FailOps is set.
var ErrInjected = errInjected{}

type errInjected struct{}

func (errInjected) Error() string { return "injected persistence failure" }

func NewMemPolicyStore() *MemPolicyStore {
	return &MemPolicyStore{Rooms: make(map[string]policy.RoomPolicy)}
}

func (m *MemPolicyStore) Load(ctx context.Context) (map[string]policy.RoomPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOps {
		return nil, ErrInjected
	}
	out := make(map[string]policy.RoomPolicy, len(m.Rooms))
	for k, v := range m.Rooms {
		out[k] = v
	}
	return out, nil
}

func (m *MemPolicyStore) Save(ctx context.Context, roomID string, p policy.RoomPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOps {
		return ErrInjected
	}
	m.Rooms[roomID] = p
	m.Saves++
	return nil
}

// CaptureSink records every snapshot the ledger emits.
type CaptureSink struct {
	mu        sync.Mutex
	Snapshots []quota.Snapshot
}

func (c *CaptureSink) EmitDailyUsage(snapshot quota.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Snapshots = append(c.Snapshots, snapshot)
}

// Count returns the number of emitted snapshots.
func (c *CaptureSink) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Snapshots)
}

// AgentCall is one request captured by MockAgentServer.
type AgentCall struct {
	Path string
	Body map[string]any
}

// MockAgentServer fakes the dispatch agent HTTP API and records calls.
type MockAgentServer struct {
	*httptest.Server
	mu     sync.Mutex
	Calls  []AgentCall
	Status int // response status; defaults to 200
}

// NewMockAgentServer creates a mock agent that accepts every call.
func NewMockAgentServer(t *testing.T) *MockAgentServer {
	t.Helper()
	m := &MockAgentServer{Status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.Calls = append(m.Calls, AgentCall{Path: r.URL.Path, Body: body})
		status := m.Status
		m.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(m.Close)
	return m
}

// CallCount returns how many requests the agent has received.
func (m *MockAgentServer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
