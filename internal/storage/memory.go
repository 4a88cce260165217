package storage

import "sync"

// Memory is the in-memory Store used in tests and as the default when no
// durable backend is configured.
type Memory struct {
	slots sync.Map
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	if v, ok := m.slots.Load(key); ok {
		return v.([]byte), true, nil
	}
	return nil, false, nil
}

func (m *Memory) Set(key string, value []byte) error {
	// Copy so later caller mutations don't leak into the stored slot.
	m.slots.Store(key, append([]byte(nil), value...))
	return nil
}

func (m *Memory) Delete(key string) error {
	m.slots.Delete(key)
	return nil
}
