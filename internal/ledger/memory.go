package ledger

import (
	"context"
	"sync"
)

// Memory is a Store backed by maps. It serves tests and the -memory server
// mode where nothing should outlive the process.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]Item
	teams     map[string]Team
	itemOrder []string
	teamOrder []string
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]Item),
		teams: make(map[string]Team),
	}
}

func (m *Memory) ReadItem(_ context.Context, name string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[Key(name)]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (m *Memory) ReadTeam(_ context.Context, name string) (Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tm, ok := m.teams[Key(name)]
	if !ok {
		return Team{}, ErrTeamNotFound
	}
	return tm, nil
}

func (m *Memory) WriteItem(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(item.Name)
	if _, ok := m.items[key]; !ok {
		return ErrItemNotFound
	}
	m.items[key] = item
	return nil
}

func (m *Memory) WriteTeam(_ context.Context, team Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(team.Name)
	if _, ok := m.teams[key]; !ok {
		return ErrTeamNotFound
	}
	m.teams[key] = team
	return nil
}

func (m *Memory) AppendItem(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(item.Name)
	if _, ok := m.items[key]; ok {
		return ErrItemExists
	}
	m.items[key] = item
	m.itemOrder = append(m.itemOrder, key)
	return nil
}

func (m *Memory) AppendTeam(_ context.Context, team Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(team.Name)
	if _, ok := m.teams[key]; ok {
		return ErrTeamExists
	}
	m.teams[key] = team
	m.teamOrder = append(m.teamOrder, key)
	return nil
}

func (m *Memory) ListItems(_ context.Context, category string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.itemOrder))
	for _, key := range m.itemOrder {
		it := m.items[key]
		if category != "" && it.Category != category {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *Memory) ListTeams(_ context.Context) ([]Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Team, 0, len(m.teamOrder))
	for _, key := range m.teamOrder {
		out = append(out, m.teams[key])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
