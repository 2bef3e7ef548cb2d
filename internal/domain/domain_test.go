package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusTodo, StatusInProgress}:    true,
		{StatusInProgress, StatusBlocked}: true,
		{StatusInProgress, StatusDone}:    true,
		{StatusInProgress, StatusTodo}:    true,
		{StatusBlocked, StatusInProgress}: true,
		{StatusBlocked, StatusTodo}:       true,
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := allowed[[2]Status{from, to}]
			if got := TransitionAllowed(from, to); got != want {
				t.Errorf("TransitionAllowed(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestDoneIsTerminal(t *testing.T) {
	if !StatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	for _, s := range []Status{StatusTodo, StatusInProgress, StatusBlocked} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	for _, bad := range []string{"", "Done", "TODO", "pending"} {
		if _, err := ParseStatus(bad); err == nil {
			t.Errorf("ParseStatus(%q) should fail", bad)
		}
	}
}

func TestPriorityScore(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{PriorityUrgent, 4},
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority(""), 2},
		{Priority("bogus"), 2},
	}
	for _, c := range cases {
		if got := c.p.Score(); got != c.want {
			t.Errorf("Score(%q) = %d, want %d", c.p, got, c.want)
		}
	}
}

func TestParsePriorityAndSeverity(t *testing.T) {
	if p, err := ParsePriority("urgent"); err != nil || p != PriorityUrgent {
		t.Errorf("ParsePriority = %v, %v", p, err)
	}
	if _, err := ParsePriority("critical"); err == nil {
		t.Error("ParsePriority should reject unknown values")
	}
	if s, err := ParseSeverity("high"); err != nil || s != SeverityHigh {
		t.Errorf("ParseSeverity = %v, %v", s, err)
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Error("ParseSeverity should reject unknown values")
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	wrapped := WrapError(KindProviderTransient, base, "mirror %s", "t1")

	if KindOf(wrapped) != KindProviderTransient {
		t.Errorf("KindOf = %s", KindOf(wrapped))
	}
	if !IsKind(wrapped, KindProviderTransient) || IsKind(wrapped, KindNotFound) {
		t.Error("IsKind mismatch")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if KindOf(base) != KindInternal {
		t.Errorf("untagged errors default to internal, got %s", KindOf(base))
	}
	if KindOf(nil) != KindInternal {
		t.Errorf("nil defaults to internal, got %s", KindOf(nil))
	}

	plain := NewError(KindNotFound, "task %s not found", "t9")
	if plain.Error() != "not_found: task t9 not found" {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestTaskClone(t *testing.T) {
	due := time.Now()
	orig := Task{
		ID:           "t1",
		Labels:       []string{"backend"},
		Dependencies: []string{"t0"},
		DueDate:      &due,
	}
	clone := orig.Clone()
	clone.Labels[0] = "frontend"
	clone.Dependencies[0] = "tX"
	*clone.DueDate = due.Add(time.Hour)

	if orig.Labels[0] != "backend" || orig.Dependencies[0] != "t0" || !orig.DueDate.Equal(due) {
		t.Error("Clone shares memory with the original")
	}
}

func TestAgentHasSkill(t *testing.T) {
	a := Agent{Skills: []string{"go", "sql"}}
	if !a.HasSkill("go") || a.HasSkill("rust") {
		t.Error("HasSkill mismatch")
	}
}
