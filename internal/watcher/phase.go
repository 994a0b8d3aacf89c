package watcher

// Phase is a step of the per-repository watch cycle.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseChecking       Phase = "checking"
	PhaseNoChange       Phase = "no_change"
	PhaseChangeDetected Phase = "change_detected"
	PhaseTriggering     Phase = "triggering"
	PhaseCommitted      Phase = "committed"
	PhaseTriggerFailed  Phase = "trigger_failed"
	// PhaseSkipped ends a cycle abandoned before any decision, because a
	// detection failed or shutdown was requested.
	PhaseSkipped Phase = "skipped"
)

// next lists the phases reachable from each phase within a cycle.
var next = map[Phase][]Phase{
	PhaseIdle:           {PhaseChecking},
	PhaseChecking:       {PhaseNoChange, PhaseChangeDetected, PhaseSkipped},
	PhaseChangeDetected: {PhaseTriggering},
	PhaseTriggering:     {PhaseCommitted, PhaseTriggerFailed},
	PhaseNoChange:       {PhaseIdle},
	PhaseCommitted:      {PhaseIdle},
	PhaseTriggerFailed:  {PhaseIdle},
	PhaseSkipped:        {PhaseIdle},
}

// CanTransition reports whether the cycle may move from one phase to another.
func CanTransition(from, to Phase) bool {
	for _, p := range next[from] {
		if p == to {
			return true
		}
	}
	return false
}
