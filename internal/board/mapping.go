package board

import (
	"strings"

	"github.com/marcus-coord/marcus/internal/domain"
)

// PriorityRules maps board labels onto internal priorities. Each vendor's
// label taxonomy differs ("P0", "High", "CRITICAL"); the rules are
// configurable per adapter and matched case-insensitively. Labels that
// match no rule leave the task at medium.
type PriorityRules struct {
	Urgent []string `yaml:"urgent" json:"urgent"`
	High   []string `yaml:"high" json:"high"`
	Low    []string `yaml:"low" json:"low"`
}

// DefaultPriorityRules covers the common label conventions.
func DefaultPriorityRules() PriorityRules {
	return PriorityRules{
		Urgent: []string{"p0", "urgent", "critical", "blocker"},
		High:   []string{"p1", "high", "important"},
		Low:    []string{"p3", "p4", "low", "minor", "nice-to-have"},
	}
}

// PriorityFromLabels extracts the highest priority any label maps to.
// Unknown labels are ignored; no match means medium.
func (r PriorityRules) PriorityFromLabels(labels []string) domain.Priority {
	best := domain.PriorityMedium
	for _, l := range labels {
		ll := strings.ToLower(strings.TrimSpace(l))
		switch {
		case containsFold(r.Urgent, ll):
			return domain.PriorityUrgent
		case containsFold(r.High, ll) && best != domain.PriorityUrgent:
			best = domain.PriorityHigh
		case containsFold(r.Low, ll) && best == domain.PriorityMedium:
			best = domain.PriorityLow
		}
	}
	return best
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// StatusColumns maps internal statuses onto the external list/column names
// a vendor uses. Each adapter fills its own table explicitly; substring
// guessing against list names is deliberately avoided.
type StatusColumns map[domain.Status]string

// ColumnFor returns the external column for a status, falling back to the
// status string itself when unmapped.
func (m StatusColumns) ColumnFor(s domain.Status) string {
	if c, ok := m[s]; ok {
		return c
	}
	return string(s)
}

// StatusFor reverse-maps an external column name to an internal status.
// The match is exact and case-insensitive; unknown columns report false.
func (m StatusColumns) StatusFor(column string) (domain.Status, bool) {
	for s, c := range m {
		if strings.EqualFold(c, column) {
			return s, true
		}
	}
	return "", false
}
