package store

import "sync"

// Memory is an in-process config byte store.
type Memory struct {
	mu    sync.Mutex
	raw   byte
	saves int
	err   error
}

// NewMemory returns a Memory holding raw.
func NewMemory(raw byte) *Memory {
	return &Memory{raw: raw}
}

func (m *Memory) Load() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, nil
}

func (m *Memory) Save(raw byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.raw = raw
	m.saves++
	return nil
}

// FailWith makes every later Save return err. Pass nil to clear.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Saves returns how many successful saves happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
