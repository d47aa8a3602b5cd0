package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const cognitiveMapFile = "cognitive-map.json"

// CategoryEntry summarises one live archival category. The map lets
// the engine ask "what do I know about" without a vector search.
type CategoryEntry struct {
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	MemoryCount int    `json:"memoryCount"`
	LastUpdated int64  `json:"lastUpdated"` // unix ms
}

// CognitiveMap is the JSON index of archival categories. One entry per
// live category; the entry goes away when the category empties.
type CognitiveMap struct {
	path    string
	mu      sync.Mutex
	entries map[string]*CategoryEntry
}

func loadCognitiveMap(stateDir string) *CognitiveMap {
	m := &CognitiveMap{
		path:    filepath.Join(stateDir, cognitiveMapFile),
		entries: make(map[string]*CategoryEntry),
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return m
	}
	var list []*CategoryEntry
	if json.Unmarshal(data, &list) == nil {
		for _, e := range list {
			m.entries[e.Category] = e
		}
	}
	return m
}

// Bump records an insert into a category, creating the entry if new.
func (m *CognitiveMap) Bump(category, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[category]
	if !ok {
		e = &CategoryEntry{Category: category}
		m.entries[category] = e
	}
	if description != "" {
		e.Description = description
	}
	e.MemoryCount++
	e.LastUpdated = time.Now().UnixMilli()
	m.persist()
}

// SetCount resets a category's record count after deletion, removing
// the entry entirely when the count reaches zero.
func (m *CognitiveMap) SetCount(category string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if count <= 0 {
		delete(m.entries, category)
	} else if e, ok := m.entries[category]; ok {
		e.MemoryCount = count
		e.LastUpdated = time.Now().UnixMilli()
	}
	m.persist()
}

// Categories lists entries sorted by category name.
func (m *CognitiveMap) Categories() []CategoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CategoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Has reports whether a category is mapped.
func (m *CognitiveMap) Has(category string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[category]
	return ok
}

// persist is called with the mutex held.
func (m *CognitiveMap) persist() {
	list := make([]*CategoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Category < list[j].Category })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(m.path, data, 0600)
}
