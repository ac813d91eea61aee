// Package models defines the core domain entities: events, participants, gambles and transfers.
package models

import (
	"errors"
	"strings"
	"time"
)

// Identity is an authenticated caller, typically an address.
type Identity string

// Participant is one option bettors can wager on.
type Participant struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BaseValue   Amount `json:"base_value"`
	BetsPlaced  Amount `json:"bets_placed"`
}

// Validate checks participant field constraints.
func (p *Participant) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("participant name must not be empty")
	}
	if p.BaseValue.Sign() < 0 {
		return errors.New("participant base value must not be negative")
	}
	if p.BetsPlaced.Sign() < 0 {
		return errors.New("participant bets placed must not be negative")
	}
	return nil
}

// Event is the single betting round. Winner holds the winning participant id
// plus one, so zero means the winner has not been declared.
type Event struct {
	EventID          int64         `json:"event_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Participants     []Participant `json:"participants"`
	StartTime        time.Time     `json:"start_time"`
	SettlingTime     time.Time     `json:"settling_time"`
	EndTime          time.Time     `json:"end_time,omitzero"`
	BettingDuration  time.Duration `json:"betting_duration"`
	SettlingDuration time.Duration `json:"settling_duration"`
	Status           Phase         `json:"status"`
	Winner           int           `json:"winner"`
}

// WinnerID returns the declared winning participant id.
func (e Event) WinnerID() (int, bool) {
	if e.Winner == 0 {
		return 0, false
	}
	return e.Winner - 1, true
}

// HasEvent reports whether this is a real event rather than the empty sentinel.
func (e Event) HasEvent() bool {
	return e.Name != ""
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("event name must not be empty")
	}
	if e.BettingDuration < 0 {
		return errors.New("betting duration must not be negative")
	}
	if e.SettlingDuration < 0 {
		return errors.New("settling duration must not be negative")
	}
	if e.SettlingTime.Before(e.StartTime) {
		return errors.New("settling time must not precede start time")
	}
	if e.Winner < 0 {
		return errors.New("winner must not be negative")
	}
	return nil
}

// Gamble is one placed bet.
type Gamble struct {
	ID            int       `json:"id"`
	EventID       int64     `json:"event_id"`
	Gambler       Identity  `json:"gambler"`
	ParticipantID int       `json:"participant_id"`
	Amount        Amount    `json:"amount"`
	Status        Outcome   `json:"status"`
	Claimed       bool      `json:"claimed"`
	Paid          bool      `json:"paid"`
	Payout        Amount    `json:"payout"`
	PlacedAt      time.Time `json:"placed_at"`
}

// Validate checks gamble field constraints.
func (g *Gamble) Validate() error {
	if g.Gambler == "" {
		return errors.New("gambler must not be empty")
	}
	if g.Amount.Sign() <= 0 {
		return errors.New("gamble amount must be positive")
	}
	if g.Claimed && g.Status != OutcomeWon {
		return errors.New("only won gambles can be claimed")
	}
	if g.Paid && !g.Claimed {
		return errors.New("gamble paid without a claim")
	}
	if g.Payout.Cmp(g.Amount) > 0 {
		return errors.New("payout must not exceed the gamble amount")
	}
	return nil
}

// TransferKind classifies an outflow from escrow.
type TransferKind string

const (
	TransferHouseShare TransferKind = "house_share"
	TransferPayout     TransferKind = "payout"
)

// Transfer records funds leaving escrow.
type Transfer struct {
	ID        string       `json:"id"`
	EventID   int64        `json:"event_id"`
	Kind      TransferKind `json:"kind"`
	Recipient Identity     `json:"recipient"`
	GambleID  int          `json:"gamble_id"`
	Amount    Amount       `json:"amount"`
	CreatedAt time.Time    `json:"created_at"`
}

// Snapshot is the persisted state of the active event.
type Snapshot struct {
	Event        Event
	Participants []Participant
	Gambles      []Gamble
	Transfers    []Transfer
}

// Changeset describes one committed mutation. Stores apply it atomically.
type Changeset struct {
	// Event, when set, replaces the event header. Participants are not read from it.
	Event *Event
	// ClearParticipants empties the roster before Participants are upserted.
	ClearParticipants bool
	Participants      []Participant
	// ResetLedger starts a fresh gamble list for a new event.
	ResetLedger bool
	Gambles     []Gamble
	Transfers   []Transfer
}

// Empty reports whether the changeset carries nothing to persist.
func (c *Changeset) Empty() bool {
	return c.Event == nil && !c.ClearParticipants && len(c.Participants) == 0 &&
		!c.ResetLedger && len(c.Gambles) == 0 && len(c.Transfers) == 0
}
