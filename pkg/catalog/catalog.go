// Package catalog indexes the developer tools and cheat-sheets served by
// fluxtools. A Catalog is built once at startup and passed by reference.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// Kind separates interactive tools from static reference content.
type Kind string

const (
	KindTool       Kind = "tool"
	KindCheatSheet Kind = "cheatsheet"
)

// Entry is one catalog item. Operation is set for tools computed on a
// worker context.
type Entry struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Kind        Kind               `json:"kind" yaml:"kind"`
	Category    string             `json:"category" yaml:"category"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags"`
	Operation   envelope.Operation `json:"operation,omitempty" yaml:"operation"`
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("catalog entry: id cannot be empty")
	case strings.TrimSpace(e.Name) == "":
		return fmt.Errorf("catalog entry %s: name cannot be empty", e.ID)
	case e.Kind != KindTool && e.Kind != KindCheatSheet:
		return fmt.Errorf("catalog entry %s: unknown kind %q", e.ID, e.Kind)
	case strings.TrimSpace(e.Category) == "":
		return fmt.Errorf("catalog entry %s: category cannot be empty", e.ID)
	case e.Operation != "" && !e.Operation.Valid():
		return fmt.Errorf("catalog entry %s: unknown operation %q", e.ID, e.Operation)
	}
	return nil
}

func (e Entry) matches(q string) bool {
	if strings.Contains(strings.ToLower(e.ID), q) ||
		strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func (e Entry) clone() Entry {
	e.Tags = append([]string(nil), e.Tags...)
	return e
}

// EventType is the kind of a catalog change
type EventType int

const (
	EventAdded EventType = iota
	EventUpdated
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is a change notification
type Event struct {
	Type      EventType
	Entry     Entry
	Timestamp time.Time
}

// Catalog is a concurrency-safe index of entries with change
// notifications.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	watchers []chan Event
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// NewDefault creates a catalog seeded with Defaults().
func NewDefault() *Catalog {
	c := New()
	for _, e := range Defaults() {
		if err := c.Register(e); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds or replaces an entry.
func (c *Catalog) Register(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e = e.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	eventType := EventAdded
	if _, exists := c.entries[e.ID]; exists {
		eventType = EventUpdated
	}
	c.entries[e.ID] = e
	c.notify(Event{Type: eventType, Entry: e.clone(), Timestamp: time.Now()})
	return nil
}

// Remove deletes an entry and reports whether it existed.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[id]
	if !exists {
		return false
	}
	delete(c.entries, id)
	c.notify(Event{Type: EventRemoved, Entry: e, Timestamp: time.Now()})
	return true
}

// notify must be called with c.mu held. Slow watchers miss events.
func (c *Catalog) notify(ev Event) {
	for _, w := range c.watchers {
		select {
		case w <- ev:
		default:
		}
	}
}

// Get returns the entry with id.
func (c *Catalog) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns every entry ordered by category, then name.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	c.mu.RUnlock()

	sortEntries(out)
	return out
}

// Search returns the entries whose id, name, description or tags contain
// query, case-insensitively. An empty query matches everything.
func (c *Catalog) Search(query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.List()
	}

	c.mu.RLock()
	var out []Entry
	for _, e := range c.entries {
		if e.matches(q) {
			out = append(out, e.clone())
		}
	}
	c.mu.RUnlock()

	sortEntries(out)
	return out
}

// ByCategory groups the entries by category.
func (c *Catalog) ByCategory() map[string][]Entry {
	groups := make(map[string][]Entry)
	for _, e := range c.List() {
		groups[e.Category] = append(groups[e.Category], e)
	}
	return groups
}

// Categories returns the sorted category names.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range c.entries {
		seen[e.Category] = struct{}{}
	}
	c.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Subscribe returns a channel of change events and a function that
// unsubscribes and closes it.
func (c *Catalog) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 100)

	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, w := range c.watchers {
				if w == ch {
					c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Category != es[j].Category {
			return es[i].Category < es[j].Category
		}
		if es[i].Name != es[j].Name {
			return es[i].Name < es[j].Name
		}
		return es[i].ID < es[j].ID
	})
}
