package domain

// allowedTransitions is the lifecycle table. Any move not listed here is
// rejected with InvalidTransition.
//
//	todo        -> in_progress   (successful assignment)
//	in_progress -> blocked       (agent reports blocker)
//	blocked     -> in_progress   (blocker resolved)
//	in_progress -> done          (agent reports completion)
//	in_progress -> todo          (stale sweep or explicit unassign)
//	blocked     -> todo          (stale sweep)
var allowedTransitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress},
	StatusInProgress: {StatusBlocked, StatusDone, StatusTodo},
	StatusBlocked:    {StatusInProgress, StatusTodo},
}

// TransitionAllowed reports whether moving a task from one status to another
// is legal.
func TransitionAllowed(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
