package betting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/betledger/internal/models"
)

// roster is the participant registry of the active event. Ids are roster indexes.
type roster struct {
	participants []models.Participant
}

func (r *roster) list() []models.Participant {
	return append([]models.Participant(nil), r.participants...)
}

func (r *roster) get(id int) (models.Participant, error) {
	if id < 0 || id >= len(r.participants) {
		return models.Participant{}, fmt.Errorf("%w: id %d out of range [0,%d)", ErrInvalidParticipant, id, len(r.participants))
	}
	return r.participants[id], nil
}

func (r *roster) upsert(p models.Participant) {
	if p.ID < len(r.participants) {
		r.participants[p.ID] = p
		return
	}
	r.participants = append(r.participants, p)
}

func (r *roster) betsPlaced() models.Amount {
	values := make([]models.Amount, len(r.participants))
	for i, p := range r.participants {
		values[i] = p.BetsPlaced
	}
	return models.SumAmounts(values...)
}

// recordBet returns the participant with amount added to its running total.
func (r *roster) recordBet(id int, amount models.Amount) (models.Participant, error) {
	p, err := r.get(id)
	if err != nil {
		return models.Participant{}, err
	}
	p.BetsPlaced = p.BetsPlaced.Add(amount)
	return p, nil
}

// reset returns the roster with every running total zeroed, or nil when
// nothing needs to change.
func (r *roster) reset() []models.Participant {
	var changed []models.Participant
	for _, p := range r.participants {
		if !p.BetsPlaced.IsZero() {
			p.BetsPlaced = models.Amount{}
			changed = append(changed, p)
		}
	}
	return changed
}

// buildRoster validates a new roster and assigns sequential ids in list order.
func buildRoster(list []models.Participant) ([]models.Participant, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: participant list must not be empty", ErrInvalidParticipant)
	}
	seen := make(map[string]bool, len(list))
	out := make([]models.Participant, 0, len(list))
	for i, p := range list {
		p.ID = i
		p.Name = strings.TrimSpace(p.Name)
		p.BetsPlaced = models.Amount{}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: participant %d: %v", ErrInvalidParticipant, i, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateParticipant, p.Name)
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}

// SetParticipants installs the roster for a new event. The roster must be
// empty and the event either absent (ENDED) or BETTING with no bets yet, so a
// settled event keeps the roster its gambles were placed against.
func (e *Engine) SetParticipants(ctx context.Context, caller models.Identity, list []models.Participant) error {
	return e.mutate(ctx, "SetParticipants", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "SetParticipants"); err != nil {
			return nil, err
		}
		switch {
		case s.event.Status == models.PhaseEnded:
		case s.event.Status == models.PhaseBetting && len(s.ledger.gambles) == 0:
		default:
			return nil, fmt.Errorf("%w: roster can only be set before the first bet of a new event, event is %s", ErrInvalidState, s.event.Status)
		}
		if len(s.roster.participants) > 0 {
			return nil, fmt.Errorf("%w: roster already holds %d participants, clear it first", ErrInvalidState, len(s.roster.participants))
		}
		built, err := buildRoster(list)
		if err != nil {
			return nil, err
		}
		return &models.Changeset{Participants: built}, nil
	})
}

// ClearParticipants empties the roster. Live bets reference roster ids, so
// this is refused while an event is open.
func (e *Engine) ClearParticipants(ctx context.Context, caller models.Identity) error {
	return e.mutate(ctx, "ClearParticipants", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "ClearParticipants"); err != nil {
			return nil, err
		}
		if s.event.Status.Open() {
			return nil, fmt.Errorf("%w: cannot clear participants while event is %s", ErrInvalidState, s.event.Status)
		}
		return &models.Changeset{ClearParticipants: true}, nil
	})
}

// GetParticipants returns the roster in id order.
func (e *Engine) GetParticipants() []models.Participant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.roster.list()
}
