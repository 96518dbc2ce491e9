// Package roster filters the patient list by tab and search text.
package roster

import (
	"strings"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"
)

// Tab selects which patients the list shows.
type Tab string

const (
	TabAll      Tab = "all"
	TabCritical Tab = "critical"
)

// ParseTab is case-insensitive; unknown values select TabAll.
func ParseTab(s string) Tab {
	if Tab(strings.ToLower(strings.TrimSpace(s))) == TabCritical {
		return TabCritical
	}
	return TabAll
}

// Query is a tab plus free-text search.
type Query struct {
	Tab    Tab
	Search string
}

// Matches reports whether e passes both the tab and the search.
func (q Query) Matches(e projection.RosterEntry) bool {
	if q.Tab == TabCritical && e.Status != models.StatusCritical {
		return false
	}
	if q.Search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.LastName), strings.ToLower(q.Search)) ||
		strings.Contains(e.PHN, q.Search)
}

// Filter keeps the entries q matches, preserving order. Filtering an already
// filtered list returns it unchanged.
func Filter(entries []projection.RosterEntry, q Query) []projection.RosterEntry {
	out := make([]projection.RosterEntry, 0, len(entries))
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
