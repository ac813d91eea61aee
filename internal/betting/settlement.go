package betting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/betledger/internal/models"
)

func (s *state) transferred() models.Amount {
	values := make([]models.Amount, len(s.transfers))
	for i, t := range s.transfers {
		values[i] = t.Amount
	}
	return models.SumAmounts(values...)
}

func (s *state) escrow() models.Amount {
	return s.ledger.tally().Sub(s.transferred())
}

func newTransfer(ev models.Event, kind models.TransferKind, to models.Identity, gambleID int, amount models.Amount, now time.Time) models.Transfer {
	return models.Transfer{
		ID:        uuid.NewString(),
		EventID:   ev.EventID,
		Kind:      kind,
		Recipient: to,
		GambleID:  gambleID,
		Amount:    amount,
		CreatedAt: now,
	}
}

// ComputePayablePool returns the stake owed back to winners before any house cut.
func (e *Engine) ComputePayablePool() models.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ledger.payable(e.state.event.Winner)
}

// EscrowBalance returns the stakes still held by the engine.
func (e *Engine) EscrowBalance() models.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.escrow()
}

// Transfers returns every outflow of the active event.
func (e *Engine) Transfers() []models.Transfer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Transfer(nil), e.state.transfers...)
}

// StartSettling pays the house share to the owner, fixes every gamble outcome
// and moves the event to SETTLING. The three effects commit as one changeset.
func (e *Engine) StartSettling(ctx context.Context, caller models.Identity, houseShare models.Amount) error {
	return e.mutate(ctx, "StartSettling", func(s *state, now time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "StartSettling"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseOngoing {
			return nil, fmt.Errorf("%w: event is %s, not ONGOING", ErrInvalidState, s.event.Status)
		}
		winnerID, ok := s.event.WinnerID()
		if !ok {
			return nil, ErrWinnerUndeclared
		}
		if houseShare.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative house share", ErrInvalidAmount)
		}

		total := s.ledger.tally()
		surplus := total.Sub(s.ledger.payable(s.event.Winner))
		if houseShare.Cmp(surplus) > 0 {
			return nil, fmt.Errorf("%w: share %s, surplus %s", ErrShareExceedsSurplus, houseShare, surplus)
		}
		if houseShare.Cmp(s.escrow()) > 0 {
			return nil, fmt.Errorf("%w: share %s, escrow %s", ErrInsufficientEscrow, houseShare, s.escrow())
		}

		resolved, err := s.ledger.resolveOutcomes(winnerID)
		if err != nil {
			return nil, err
		}
		ev := s.event
		if err := beginSettling(&ev, now); err != nil {
			return nil, err
		}

		ch := &models.Changeset{Event: &ev, Gambles: resolved}
		if houseShare.Sign() > 0 {
			ch.Transfers = []models.Transfer{newTransfer(ev, models.TransferHouseShare, e.owner, -1, houseShare, now)}
		}
		return ch, nil
	})
}

// ResolvePayout pays computed winnings for a claimed winning gamble and marks
// it paid. Winnings never exceed the stake. Payouts start once the event has
// settled so every claim is known.
func (e *Engine) ResolvePayout(ctx context.Context, caller models.Identity, gambleID int, winnings models.Amount) error {
	return e.mutate(ctx, "ResolvePayout", func(s *state, now time.Time) (*models.Changeset, error) {
		if err := e.authorize(caller, "ResolvePayout"); err != nil {
			return nil, err
		}
		if s.event.Status != models.PhaseSettled {
			return nil, fmt.Errorf("%w: event is %s, not SETTLED", ErrInvalidState, s.event.Status)
		}
		g, err := s.ledger.get(gambleID)
		if err != nil {
			return nil, err
		}
		switch {
		case g.Status != models.OutcomeWon:
			return nil, fmt.Errorf("%w: gamble %d is %s", ErrNotWinner, g.ID, g.Status)
		case !g.Claimed:
			return nil, fmt.Errorf("%w: gamble %d", ErrNotClaimed, g.ID)
		case g.Paid:
			return nil, fmt.Errorf("%w: gamble %d already paid %s", ErrAlreadyResolved, g.ID, g.Payout)
		}
		if winnings.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative winnings", ErrInvalidAmount)
		}
		if winnings.Cmp(g.Amount) > 0 {
			return nil, fmt.Errorf("%w: winnings %s, stake %s", ErrExceedsStake, winnings, g.Amount)
		}
		if winnings.Cmp(s.escrow()) > 0 {
			return nil, fmt.Errorf("%w: winnings %s, escrow %s", ErrInsufficientEscrow, winnings, s.escrow())
		}

		g.Paid = true
		g.Payout = winnings
		ch := &models.Changeset{Gambles: []models.Gamble{g}}
		if winnings.Sign() > 0 {
			ch.Transfers = []models.Transfer{newTransfer(s.event, models.TransferPayout, g.Gambler, g.ID, winnings, now)}
		}
		return ch, nil
	})
}

// PendingPayouts lists claimed winning gambles not yet paid, with winnings
// computed by ProRataWinnings. The winning volume and the tally both come from
// the ledger, so clearing the roster after settlement does not move the plan.
func (e *Engine) PendingPayouts() []PayoutPlan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.state.event.WinnerID(); !ok {
		return nil
	}
	winnerBets := e.state.ledger.payable(e.state.event.Winner)
	return planPayouts(e.state.ledger.gambles, winnerBets, e.state.ledger.tally())
}
