package betting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/betledger/internal/models"
)

// CreateEvent opens a new event with betting enabled immediately. The previous
// event must have ended or fully settled. It returns the new event id.
func (e *Engine) CreateEvent(ctx context.Context, caller models.Identity, name, description string, betting, settling time.Duration) (int64, error) {
	var id int64
	err := e.mutate(ctx, "CreateEvent", func(s *state, now time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "CreateEvent"); err != nil {
			return nil, err
		}
		if s.event.Status.Open() {
			return nil, fmt.Errorf("%w: event %d is still %s", ErrInvalidState, s.event.EventID, s.event.Status)
		}

		ev := models.Event{
			EventID:          s.event.EventID + 1,
			Name:             strings.TrimSpace(name),
			Description:      description,
			StartTime:        now,
			SettlingTime:     now.Add(betting),
			BettingDuration:  betting,
			SettlingDuration: settling,
			Status:           models.PhaseBetting,
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		id = ev.EventID

		// A roster carried over from the previous event starts from zero so the
		// ledger tally and the roster totals agree.
		return &models.Changeset{
			Event:        &ev,
			ResetLedger:  true,
			Participants: s.roster.reset(),
		}, nil
	})
	return id, err
}

// ForciblyAdvanceToOngoing closes the betting window early.
func (e *Engine) ForciblyAdvanceToOngoing(ctx context.Context, caller models.Identity) error {
	return e.mutate(ctx, "ForciblyAdvanceToOngoing", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "ForciblyAdvanceToOngoing"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseBetting {
			return nil, fmt.Errorf("%w: event is %s, not BETTING", ErrInvalidState, s.event.Status)
		}
		ev := s.event
		ev.Status = models.PhaseOngoing
		return &models.Changeset{Event: &ev}, nil
	})
}

// StartEvent closes the betting window once its scheduled time has passed.
func (e *Engine) StartEvent(ctx context.Context, caller models.Identity) error {
	return e.mutate(ctx, "StartEvent", func(s *state, now time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "StartEvent"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseBetting {
			return nil, fmt.Errorf("%w: event is %s, not BETTING", ErrInvalidState, s.event.Status)
		}
		if now.Before(s.event.SettlingTime) {
			return nil, &WaitError{Op: "StartEvent", Remaining: s.event.SettlingTime.Sub(now)}
		}
		ev := s.event
		ev.Status = models.PhaseOngoing
		return &models.Changeset{Event: &ev}, nil
	})
}

// DeclareWinner records the winning participant. The phase is unchanged;
// settlement starts with StartSettling.
func (e *Engine) DeclareWinner(ctx context.Context, caller models.Identity, participantID int) error {
	return e.mutate(ctx, "DeclareWinner", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "DeclareWinner"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseOngoing {
			return nil, fmt.Errorf("%w: event is %s, not ONGOING", ErrInvalidState, s.event.Status)
		}
		if s.event.Winner != 0 {
			return nil, fmt.Errorf("%w: winner already declared", ErrInvalidState)
		}
		if _, err := s.roster.get(participantID); err != nil {
			return nil, err
		}
		ev := s.event
		ev.Winner = participantID + 1
		return &models.Changeset{Event: &ev}, nil
	})
}

// beginSettling moves ev from ONGOING to SETTLING, stamping the end time and
// scheduling the settling gate.
func beginSettling(ev *models.Event, now time.Time) error {
	if ev.Winner == 0 {
		return ErrWinnerUndeclared
	}
	if ev.Status != models.PhaseOngoing {
		return fmt.Errorf("%w: event is %s, not ONGOING", ErrInvalidState, ev.Status)
	}
	ev.Status = models.PhaseSettling
	ev.EndTime = now
	ev.SettlingTime = now.Add(ev.SettlingDuration)
	return nil
}

// FinalizeSettled closes the settling window. Before the gate opens it returns
// false and a *WaitError; callers retry after WaitError.Remaining.
func (e *Engine) FinalizeSettled(ctx context.Context, caller models.Identity) (bool, error) {
	err := e.mutate(ctx, "FinalizeSettled", func(s *state, now time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "FinalizeSettled"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseSettling {
			return nil, fmt.Errorf("%w: event is %s, not SETTLING", ErrInvalidState, s.event.Status)
		}
		if now.Before(s.event.SettlingTime) {
			return nil, &WaitError{Op: "FinalizeSettled", Remaining: s.event.SettlingTime.Sub(now)}
		}
		ev := s.event
		ev.Status = models.PhaseSettled
		return &models.Changeset{Event: &ev}, nil
	})
	return err == nil, err
}

// GetEventDetails returns the event with its participants. With no event the
// result has an empty name and phase ENDED.
func (e *Engine) GetEventDetails() models.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.details()
}
