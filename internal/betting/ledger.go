package betting

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/betledger/internal/models"
)

// ledger stores every gamble of the active event. Gamble ids are ledger indexes.
type ledger struct {
	gambles []models.Gamble
}

func (l *ledger) get(id int) (models.Gamble, error) {
	if id < 0 || id >= len(l.gambles) {
		return models.Gamble{}, fmt.Errorf("%w: id %d", ErrGambleNotFound, id)
	}
	return l.gambles[id], nil
}

func (l *ledger) upsert(g models.Gamble) {
	if g.ID < len(l.gambles) {
		l.gambles[g.ID] = g
		return
	}
	l.gambles = append(l.gambles, g)
}

func (l *ledger) list() []models.Gamble {
	return append([]models.Gamble(nil), l.gambles...)
}

func (l *ledger) tally() models.Amount {
	values := make([]models.Amount, len(l.gambles))
	for i, g := range l.gambles {
		values[i] = g.Amount
	}
	return models.SumAmounts(values...)
}

// payable sums the stakes of winning gambles. Once a winner is declared but
// outcomes are still pending, gambles on the winner count as winning.
func (l *ledger) payable(winner int) models.Amount {
	var values []models.Amount
	for _, g := range l.gambles {
		switch {
		case g.Status == models.OutcomeWon:
			values = append(values, g.Amount)
		case g.Status == models.OutcomePending && winner != 0 && g.ParticipantID == winner-1:
			values = append(values, g.Amount)
		}
	}
	return models.SumAmounts(values...)
}

// resolveOutcomes returns every gamble with its outcome fixed against winnerID.
func (l *ledger) resolveOutcomes(winnerID int) ([]models.Gamble, error) {
	resolved := make([]models.Gamble, 0, len(l.gambles))
	for _, g := range l.gambles {
		if g.Status != models.OutcomePending {
			return nil, fmt.Errorf("%w: gamble %d is %s", ErrAlreadyResolved, g.ID, g.Status)
		}
		if g.ParticipantID == winnerID {
			g.Status = models.OutcomeWon
		} else {
			g.Status = models.OutcomeLost
		}
		resolved = append(resolved, g)
	}
	return resolved, nil
}

// claimable checks that gambler may claim g.
func claimable(g models.Gamble, gambler models.Identity) error {
	if g.Gambler != gambler {
		return fmt.Errorf("%w: gamble %d belongs to another gambler", ErrUnauthorized, g.ID)
	}
	if g.Status != models.OutcomeWon {
		return fmt.Errorf("%w: gamble %d is %s", ErrNotWinner, g.ID, g.Status)
	}
	if g.Claimed {
		return fmt.Errorf("%w: gamble %d", ErrAlreadyClaimed, g.ID)
	}
	return nil
}

func claimWindowOpen(s *state) error {
	if s.event.Status != models.PhaseSettling && s.event.Status != models.PhaseSettled {
		return fmt.Errorf("%w: claims open once settlement starts, event is %s", ErrInvalidState, s.event.Status)
	}
	return nil
}

// PlaceBet records a bet by gambler on a participant and returns its ledger index.
func (e *Engine) PlaceBet(ctx context.Context, gambler models.Identity, participantID int, amount models.Amount) (int, error) {
	var id int
	err := e.mutate(ctx, "PlaceBet", func(s *state, now time.Time) (*models.Changeset, error) {
		if gambler == "" {
			return nil, fmt.Errorf("%w: anonymous gambler", ErrUnauthorized)
		}
		if s.event.Status != models.PhaseBetting {
			return nil, fmt.Errorf("%w: event is %s, not BETTING", ErrInvalidState, s.event.Status)
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: stake must be positive", ErrInvalidAmount)
		}
		participant, err := s.roster.get(participantID)
		if err != nil {
			return nil, err
		}
		if amount.Cmp(participant.BaseValue) < 0 {
			return nil, fmt.Errorf("%w: %s < %s for %q", ErrBelowMinimum, amount, participant.BaseValue, participant.Name)
		}
		updated, err := s.roster.recordBet(participantID, amount)
		if err != nil {
			return nil, err
		}

		g := models.Gamble{
			ID:            len(s.ledger.gambles),
			EventID:       s.event.EventID,
			Gambler:       gambler,
			ParticipantID: participantID,
			Amount:        amount,
			Status:        models.OutcomePending,
			PlacedAt:      now,
		}
		id = g.ID
		return &models.Changeset{
			Participants: []models.Participant{updated},
			Gambles:      []models.Gamble{g},
		}, nil
	})
	return id, err
}

// Claim records the gambler's intent to be paid for a winning gamble.
// No funds move until ResolvePayout.
func (e *Engine) Claim(ctx context.Context, gambler models.Identity, gambleID int) error {
	return e.mutate(ctx, "Claim", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := claimWindowOpen(s); err != nil {
			return nil, err
		}
		g, err := s.ledger.get(gambleID)
		if err != nil {
			return nil, err
		}
		if err := claimable(g, gambler); err != nil {
			return nil, err
		}
		g.Claimed = true
		return &models.Changeset{Gambles: []models.Gamble{g}}, nil
	})
}

// ClaimAll claims every winning, unclaimed gamble of gambler and returns their ids.
func (e *Engine) ClaimAll(ctx context.Context, gambler models.Identity) ([]int, error) {
	var ids []int
	err := e.mutate(ctx, "ClaimAll", func(s *state, _ time.Time) (*models.Changeset, error) {
		if err := claimWindowOpen(s); err != nil {
			return nil, err
		}
		var claimed []models.Gamble
		alreadyClaimed := false
		for _, g := range s.ledger.gambles {
			if g.Gambler != gambler || g.Status != models.OutcomeWon {
				continue
			}
			if g.Claimed {
				alreadyClaimed = true
				continue
			}
			g.Claimed = true
			claimed = append(claimed, g)
			ids = append(ids, g.ID)
		}
		if len(claimed) == 0 {
			if alreadyClaimed {
				return nil, fmt.Errorf("%w: every winning gamble of %s is claimed", ErrAlreadyClaimed, gambler)
			}
			return nil, fmt.Errorf("%w: %s holds no winning gambles", ErrNotWinner, gambler)
		}
		return &models.Changeset{Gambles: claimed}, nil
	})
	return ids, err
}

// GetGambleDetails returns one gamble by ledger index.
func (e *Engine) GetGambleDetails(id int) (models.Gamble, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ledger.get(id)
}

// GetAllGambles returns the full ledger in placement order.
func (e *Engine) GetAllGambles() []models.Gamble {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ledger.list()
}

// GetBetsPlacedBy returns the gambles placed by gambler.
func (e *Engine) GetBetsPlacedBy(gambler models.Identity) []models.Gamble {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.Gamble
	for _, g := range e.state.ledger.gambles {
		if g.Gambler == gambler {
			out = append(out, g)
		}
	}
	return out
}

// GetBetsTally returns the sum of every stake in the active event.
func (e *Engine) GetBetsTally() models.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ledger.tally()
}
