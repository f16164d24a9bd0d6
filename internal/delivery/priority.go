package delivery

import (
	"strings"
)

const DefaultProviderPriority = 10

// PriorityTable maps webhook providers to a scheduling priority. Lower values
// are scheduled first. The table is fixed once built.
type PriorityTable struct {
	entries map[string]int
	def     int
}

// NewPriorityTable copies entries, normalizing provider names to lower case.
func NewPriorityTable(entries map[string]int, def int) *PriorityTable {
	copied := make(map[string]int, len(entries))
	for provider, priority := range entries {
		provider = strings.ToLower(strings.TrimSpace(provider))
		if provider == "" {
			continue
		}
		copied[provider] = priority
	}
	return &PriorityTable{entries: copied, def: def}
}

// DefaultPriorityTable puts stripe ahead of every other provider.
func DefaultPriorityTable() *PriorityTable {
	return NewPriorityTable(map[string]int{"stripe": 1}, DefaultProviderPriority)
}

func (t *PriorityTable) Priority(provider string) int {
	if t == nil {
		return DefaultProviderPriority
	}
	if priority, ok := t.entries[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return priority
	}
	return t.def
}

// Entries returns a copy of the configured providers.
func (t *PriorityTable) Entries() map[string]int {
	if t == nil {
		return map[string]int{}
	}
	copied := make(map[string]int, len(t.entries))
	for provider, priority := range t.entries {
		copied[provider] = priority
	}
	return copied
}

func (t *PriorityTable) Default() int {
	if t == nil {
		return DefaultProviderPriority
	}
	return t.def
}
