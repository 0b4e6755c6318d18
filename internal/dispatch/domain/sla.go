package domain

// SLAKind names one of the two SLA deadlines tracked per job.
type SLAKind string

const (
	SLAAccept   SLAKind = "accept"
	SLASchedule SLAKind = "schedule"
)

// TimerPhase distinguishes the advisory warning from the breach signal.
type TimerPhase string

const (
	PhaseWarning TimerPhase = "warning"
	PhaseBreach  TimerPhase = "breach"
)
