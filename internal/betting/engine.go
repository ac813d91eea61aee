// Package betting implements the event lifecycle and settlement engine:
// the phase state machine, the bet ledger, the participant roster and the
// house share and payout rules.
//
// All state lives behind a single Engine. Mutations are validated against the
// current state, turned into a models.Changeset, committed to the Store and only
// then applied in memory, so a failed commit never leaves a partial mutation.
package betting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/betledger/internal/clock"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/models"
)

// Store persists committed changesets.
type Store interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Commit(ctx context.Context, change *models.Changeset) error
}

// Observer receives notifications after a mutation has been committed, in
// commit order. Callbacks run outside the engine lock but hold up the next
// mutation, so they must not block for long or call mutating engine methods.
type Observer interface {
	PhaseChanged(event models.Event, from models.Phase)
	WinnerDeclared(event models.Event, winner models.Participant)
	BetPlaced(gamble models.Gamble)
	Transferred(transfer models.Transfer)
}

// Observers fans notifications out to every member.
type Observers []Observer

func (o Observers) PhaseChanged(event models.Event, from models.Phase) {
	for _, obs := range o {
		obs.PhaseChanged(event, from)
	}
}

func (o Observers) WinnerDeclared(event models.Event, winner models.Participant) {
	for _, obs := range o {
		obs.WinnerDeclared(event, winner)
	}
}

func (o Observers) BetPlaced(gamble models.Gamble) {
	for _, obs := range o {
		obs.BetPlaced(gamble)
	}
}

func (o Observers) Transferred(transfer models.Transfer) {
	for _, obs := range o {
		obs.Transferred(transfer)
	}
}

// Config holds the engine dependencies. Only Owner is required.
type Config struct {
	Owner    models.Identity
	Clock    clock.Clock
	Store    Store
	Observer Observer
}

// Engine owns the active event, its roster and its bet ledger.
type Engine struct {
	mu sync.RWMutex
	// publishMu is taken before mu is released so notifications leave in commit order.
	publishMu sync.Mutex
	owner     models.Identity
	clock     clock.Clock
	store     Store
	observer  Observer
	state     state
}

type state struct {
	event     models.Event
	roster    roster
	ledger    ledger
	transfers []models.Transfer
}

// New constructs an engine, restoring the last committed snapshot when a store is configured.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("owner identity is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	e := &Engine{
		owner:    cfg.Owner,
		clock:    cfg.Clock,
		store:    cfg.Store,
		observer: cfg.Observer,
	}

	if e.store == nil {
		logger.Debug("Engine running without persistence")
		return e, nil
	}

	snap, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	e.state.restore(snap)

	if tally, placed := e.state.ledger.tally(), e.state.roster.betsPlaced(); tally.Cmp(placed) != 0 && len(e.state.roster.participants) > 0 {
		logger.Warn("Restored ledger tally %s differs from roster bets placed %s", tally, placed)
	}
	logger.Info("Restored event %d (%s) with %d participants and %d gambles",
		e.state.event.EventID, e.state.event.Status, len(e.state.roster.participants), len(e.state.ledger.gambles))

	return e, nil
}

func (s *state) restore(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	s.event = snap.Event
	s.event.Participants = nil
	s.roster.participants = append([]models.Participant(nil), snap.Participants...)
	s.ledger.gambles = append([]models.Gamble(nil), snap.Gambles...)
	s.transfers = append([]models.Transfer(nil), snap.Transfers...)
}

// apply installs a committed changeset. It cannot fail.
func (s *state) apply(ch *models.Changeset) {
	if ch.Event != nil {
		s.event = *ch.Event
		s.event.Participants = nil
	}
	if ch.ClearParticipants {
		s.roster.participants = nil
	}
	for _, p := range ch.Participants {
		s.roster.upsert(p)
	}
	if ch.ResetLedger {
		s.ledger.gambles = nil
		s.transfers = nil
	}
	for _, g := range ch.Gambles {
		s.ledger.upsert(g)
	}
	s.transfers = append(s.transfers, ch.Transfers...)
}

// details returns the event header with the roster embedded.
func (s *state) details() models.Event {
	ev := s.event
	ev.Participants = s.roster.list()
	return ev
}

// mutation builds a changeset from the current state without modifying it.
type mutation func(s *state, now time.Time) (*models.Changeset, error)

// mutate runs fn under the write lock, commits its changeset and applies it.
// Observers are notified after the lock is released, holding publishMu.
func (e *Engine) mutate(ctx context.Context, op string, fn mutation) error {
	e.mu.Lock()

	prev := e.state.event
	prevGambles := len(e.state.ledger.gambles)

	ch, err := fn(&e.state, e.clock.Now())
	if err != nil {
		e.mu.Unlock()
		logger.Warn("%s rejected: %v", op, err)
		return err
	}
	if ch == nil || ch.Empty() {
		e.mu.Unlock()
		return nil
	}

	if e.store != nil {
		if err := e.store.Commit(ctx, ch); err != nil {
			e.mu.Unlock()
			logger.Error("%s failed to persist: %v", op, err)
			return fmt.Errorf("%s: failed to persist: %w", op, err)
		}
	}
	e.state.apply(ch)
	current := e.state.details()
	e.publishMu.Lock()
	e.mu.Unlock()
	defer e.publishMu.Unlock()

	logger.Info("%s committed (event %d, phase %s)", op, current.EventID, current.Status)
	e.publish(prev, prevGambles, current, ch)
	return nil
}

func (e *Engine) publish(prev models.Event, prevGambles int, current models.Event, ch *models.Changeset) {
	if e.observer == nil {
		return
	}
	if ch.Event != nil && (current.Status != prev.Status || current.EventID != prev.EventID) {
		e.observer.PhaseChanged(current, prev.Status)
	}
	if id, ok := current.WinnerID(); ok && prev.Winner == 0 && id < len(current.Participants) {
		e.observer.WinnerDeclared(current, current.Participants[id])
	}
	if !ch.ResetLedger {
		for _, g := range ch.Gambles {
			if g.ID >= prevGambles {
				e.observer.BetPlaced(g)
			}
		}
	}
	for _, t := range ch.Transfers {
		e.observer.Transferred(t)
	}
}
