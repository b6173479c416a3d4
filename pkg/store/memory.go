package store

import "sync"

// Memory is a map backed Backend. Contents are lost on exit.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

// ForProfile returns the store bound to one profile.
func (m *Memory) ForProfile(profile string) Store {
	return &memoryProfile{m: m, profile: profile}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memoryProfile struct {
	m       *Memory
	profile string
}

func (p *memoryProfile) Get(key string) (string, bool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	v, ok := p.m.data[p.profile][key]
	return v, ok, nil
}

func (p *memoryProfile) Set(key, value string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.m.data[p.profile] == nil {
		p.m.data[p.profile] = make(map[string]string)
	}
	p.m.data[p.profile][key] = value
	return nil
}

func (p *memoryProfile) Remove(key string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	delete(p.m.data[p.profile], key)
	return nil
}
