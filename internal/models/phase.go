package models

import "fmt"

// Phase is the lifecycle stage of an event. The numeric values are part of
// the external contract and must not be reordered.
type Phase int

const (
	PhaseEnded Phase = iota
	PhaseOngoing
	PhaseBetting
	PhaseSettling
	PhaseSettled
)

var phaseNames = map[Phase]string{
	PhaseEnded:    "ENDED",
	PhaseOngoing:  "ONGOING",
	PhaseBetting:  "BETTING",
	PhaseSettling: "SETTLING",
	PhaseSettled:  "SETTLED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Open reports whether an event in this phase still has bets pending resolution.
func (p Phase) Open() bool {
	return p == PhaseOngoing || p == PhaseBetting || p == PhaseSettling
}

// Outcome is the result recorded on a gamble once a winner is declared.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeWon
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "PENDING"
	case OutcomeWon:
		return "WON"
	case OutcomeLost:
		return "LOST"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
