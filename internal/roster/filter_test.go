package roster

import (
	"testing"

	"github.com/CJButlers/RXhale/internal/models"
	"github.com/CJButlers/RXhale/internal/projection"

	"github.com/stretchr/testify/assert"
)

func entries() []projection.RosterEntry {
	return []projection.RosterEntry{
		{PatientID: "1", LastName: "Adams", PHN: "9001234", Status: models.StatusStable},
		{PatientID: "2", LastName: "McAdam", PHN: "9005678", Status: models.StatusCritical},
		{PatientID: "3", LastName: "Nguyen", PHN: "1234000", Status: models.StatusCritical},
		{PatientID: "4", LastName: "Zhou", PHN: "5550000", Status: models.StatusStable},
	}
}

func ids(list []projection.RosterEntry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.PatientID)
	}
	return out
}

func TestParseTab(t *testing.T) {
	assert.Equal(t, TabCritical, ParseTab("critical"))
	assert.Equal(t, TabCritical, ParseTab(" CRITICAL "))
	assert.Equal(t, TabAll, ParseTab("all"))
	assert.Equal(t, TabAll, ParseTab(""))
	assert.Equal(t, TabAll, ParseTab("stable"))
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all", Query{Tab: TabAll}, []string{"1", "2", "3", "4"}},
		{"critical keeps order", Query{Tab: TabCritical}, []string{"2", "3"}},
		{"last name case-insensitive", Query{Tab: TabAll, Search: "adam"}, []string{"1", "2"}},
		{"phn substring", Query{Tab: TabAll, Search: "1234"}, []string{"1", "3"}},
		{"tab and search compose", Query{Tab: TabCritical, Search: "ADAM"}, []string{"2"}},
		{"no match", Query{Tab: TabAll, Search: "xyz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(entries(), tt.query)))
		})
	}
}

func TestFilter_Idempotent(t *testing.T) {
	queries := []Query{
		{Tab: TabAll},
		{Tab: TabCritical},
		{Tab: TabAll, Search: "a"},
		{Tab: TabCritical, Search: "9"},
	}
	for _, q := range queries {
		once := Filter(entries(), q)
		assert.Equal(t, once, Filter(once, q))
	}
}
