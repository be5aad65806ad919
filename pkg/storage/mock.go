package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	logs      map[string][][]byte
	pingError error
	failLogs  error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		snapshots: make(map[string][]byte),
		logs:      make(map[string][][]byte),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetLogError makes every log append fail with err
func (m *MockStorage) SetLogError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLogs = err
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) SaveSnapshot(ctx context.Context, sessionID string, data []byte) error {
	if data == nil {
		return errors.New("snapshot cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[sessionID] = append([]byte(nil), data...)
	return nil
}

func (m *MockStorage) LoadSnapshot(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.snapshots[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MockStorage) DeleteSnapshot(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}

func (m *MockStorage) AppendLogLine(ctx context.Context, stream string, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLogs != nil {
		return m.failLogs
	}
	m.logs[stream] = append(m.logs[stream], append([]byte(nil), record...))
	return nil
}

func (m *MockStorage) ReadLog(ctx context.Context, stream string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.logs[stream]...), nil
}

// Streams lists the streams written so far
func (m *MockStorage) Streams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.logs))
	for k := range m.logs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MockSlotStore is an in-memory SlotStore for testing
type MockSlotStore struct {
	mu    sync.RWMutex
	slots map[string]Slot
	data  map[string][]byte
}

var _ SlotStore = (*MockSlotStore)(nil)

func NewMockSlotStore() *MockSlotStore {
	return &MockSlotStore{slots: make(map[string]Slot), data: make(map[string][]byte)}
}

func (m *MockSlotStore) SaveSlot(ctx context.Context, slot Slot, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.Name] = slot
	m.data[slot.Name] = append([]byte(nil), data...)
	return nil
}

func (m *MockSlotStore) LoadSlot(ctx context.Context, name string) (Slot, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[name]
	if !ok {
		return Slot{}, nil, ErrSlotNotFound
	}
	return slot, append([]byte(nil), m.data[name]...), nil
}

func (m *MockSlotStore) ListSlots(ctx context.Context) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

func (m *MockSlotStore) DeleteSlot(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[name]; !ok {
		return ErrSlotNotFound
	}
	delete(m.slots, name)
	delete(m.data, name)
	return nil
}

func (m *MockSlotStore) Close() error {
	return nil
}
