package betting

import (
	"context"
	"errors"
	"testing"

	"github.com/rewired-gh/betledger/internal/models"
)

// ongoingWithBets opens an event, places the reference bets and declares winner 1.
func ongoingWithBets(t *testing.T) (*Engine, func()) {
	t.Helper()
	e, clk := newTestEngine(t, nil, nil)
	openEvent(t, e)
	mustBet(t, e, gambler, 1, 10_000_000)
	mustBet(t, e, other, 0, 10_000_000)
	mustBet(t, e, third, 1, 1_000_000)
	ctx := context.Background()
	if err := e.ForciblyAdvanceToOngoing(ctx, owner); err != nil {
		t.Fatal(err)
	}
	if err := e.DeclareWinner(ctx, owner, 1); err != nil {
		t.Fatal(err)
	}
	finish := func() {
		t.Helper()
		clk.Advance(e.GetEventDetails().SettlingDuration)
		if ok, err := e.FinalizeSettled(ctx, owner); !ok || err != nil {
			t.Fatalf("FinalizeSettled: %v, %v", ok, err)
		}
	}
	return e, finish
}

func TestComputePayablePool(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	openEvent(t, e)
	mustBet(t, e, gambler, 1, 10_000_000)
	mustBet(t, e, other, 0, 10_000_000)
	if !e.ComputePayablePool().IsZero() {
		t.Errorf("payable before winner = %s, want 0", e.ComputePayablePool())
	}

	e2, _ := ongoingWithBets(t)
	if got := e2.ComputePayablePool().String(); got != "11000000" {
		t.Errorf("payable after declaration = %s, want 11000000", got)
	}
	if err := e2.StartSettling(context.Background(), owner, models.Amount{}); err != nil {
		t.Fatal(err)
	}
	if got := e2.ComputePayablePool().String(); got != "11000000" {
		t.Errorf("payable after resolution = %s, want 11000000", got)
	}
}

func TestStartSettling_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("share exceeds surplus", func(t *testing.T) {
		e, _ := ongoingWithBets(t)
		err := e.StartSettling(ctx, owner, models.NewAmount(10_000_001))
		if !errors.Is(err, ErrShareExceedsSurplus) {
			t.Fatalf("error = %v, want ErrShareExceedsSurplus", err)
		}
		if e.GetEventDetails().Status != models.PhaseOngoing {
			t.Error("phase changed after rejection")
		}
		for _, g := range e.GetAllGambles() {
			if g.Status != models.OutcomePending {
				t.Errorf("gamble %d resolved after rejection", g.ID)
			}
		}
		if len(e.Transfers()) != 0 {
			t.Error("transfer recorded after rejection")
		}
	})

	t.Run("whole surplus", func(t *testing.T) {
		e, _ := ongoingWithBets(t)
		if err := e.StartSettling(ctx, owner, models.NewAmount(10_000_000)); err != nil {
			t.Fatalf("StartSettling: %v", err)
		}
		transfers := e.Transfers()
		if len(transfers) != 1 || transfers[0].Recipient != owner || transfers[0].ID == "" {
			t.Errorf("transfers = %+v", transfers)
		}
		if got := e.EscrowBalance().String(); got != "11000000" {
			t.Errorf("escrow = %s, want 11000000", got)
		}
	})

	t.Run("winner undeclared", func(t *testing.T) {
		e, _ := newTestEngine(t, nil, nil)
		openEvent(t, e)
		if err := e.ForciblyAdvanceToOngoing(ctx, owner); err != nil {
			t.Fatal(err)
		}
		if err := e.StartSettling(ctx, owner, models.Amount{}); !errors.Is(err, ErrWinnerUndeclared) {
			t.Errorf("error = %v, want ErrWinnerUndeclared", err)
		}
	})

	t.Run("wrong phase", func(t *testing.T) {
		e, _ := newTestEngine(t, nil, nil)
		openEvent(t, e)
		if err := e.StartSettling(ctx, owner, models.Amount{}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("while betting: %v, want ErrInvalidState", err)
		}
	})

	t.Run("twice", func(t *testing.T) {
		e, _ := ongoingWithBets(t)
		if err := e.StartSettling(ctx, owner, models.Amount{}); err != nil {
			t.Fatal(err)
		}
		if err := e.StartSettling(ctx, owner, models.Amount{}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("second call: %v, want ErrInvalidState", err)
		}
	})

	t.Run("owner only", func(t *testing.T) {
		e, _ := ongoingWithBets(t)
		if err := e.StartSettling(ctx, gambler, models.Amount{}); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})
}

func TestResolveOutcomes_AlreadyResolved(t *testing.T) {
	l := ledger{gambles: []models.Gamble{
		{ID: 0, ParticipantID: 0, Amount: models.NewAmount(1)},
		{ID: 1, ParticipantID: 1, Amount: models.NewAmount(1), Status: models.OutcomeLost},
	}}
	if _, err := l.resolveOutcomes(0); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("error = %v, want ErrAlreadyResolved", err)
	}
	if l.gambles[0].Status != models.OutcomePending {
		t.Error("resolveOutcomes mutated the ledger")
	}
}

func TestResolvePayout(t *testing.T) {
	ctx := context.Background()
	e, finish := ongoingWithBets(t)
	if err := e.StartSettling(ctx, owner, models.NewAmount(4_000_000)); err != nil {
		t.Fatal(err)
	}
	if err := e.Claim(ctx, gambler, 0); err != nil {
		t.Fatal(err)
	}

	if err := e.ResolvePayout(ctx, owner, 0, models.NewAmount(1)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("before settled: %v, want ErrInvalidState", err)
	}
	finish()

	tests := []struct {
		name     string
		caller   models.Identity
		gamble   int
		winnings models.Amount
		want     error
	}{
		{"non-owner", gambler, 0, models.NewAmount(1), ErrUnauthorized},
		{"losing gamble", owner, 1, models.NewAmount(1), ErrNotWinner},
		{"unclaimed gamble", owner, 2, models.NewAmount(1), ErrNotClaimed},
		{"above stake", owner, 0, models.NewAmount(10_000_001), ErrExceedsStake},
		{"unknown gamble", owner, 9, models.NewAmount(1), ErrGambleNotFound},
		{"valid payout", owner, 0, models.NewAmount(4_761_905), nil},
		{"already paid", owner, 0, models.NewAmount(1), ErrAlreadyResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ResolvePayout(ctx, tt.caller, tt.gamble, tt.winnings)
			if tt.want == nil && err != nil {
				t.Fatalf("ResolvePayout: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	var paid models.Amount
	for _, tr := range e.Transfers() {
		if tr.Kind == models.TransferPayout {
			if tr.Recipient != gambler || tr.GambleID != 0 {
				t.Errorf("payout transfer = %+v", tr)
			}
			paid = paid.Add(tr.Amount)
		}
	}
	if paid.Cmp(e.ComputePayablePool()) > 0 {
		t.Errorf("payouts %s exceed payable pool %s", paid, e.ComputePayablePool())
	}
	if got := e.EscrowBalance().String(); got != "12238095" {
		t.Errorf("escrow = %s, want 12238095", got)
	}
}

func TestPendingPayouts_NeverExceedPayable(t *testing.T) {
	ctx := context.Background()
	e, finish := ongoingWithBets(t)
	share := HouseShare(e.GetBetsTally(), e.ComputePayablePool(), 40)
	if err := e.StartSettling(ctx, owner, share); err != nil {
		t.Fatal(err)
	}
	for _, who := range []models.Identity{gambler, third} {
		if _, err := e.ClaimAll(ctx, who); err != nil {
			t.Fatalf("ClaimAll(%s): %v", who, err)
		}
	}
	finish()

	payable := e.ComputePayablePool()
	var total models.Amount
	for _, p := range e.PendingPayouts() {
		if p.Winnings.Cmp(p.Amount) > 0 {
			t.Errorf("gamble %d winnings %s above stake %s", p.GambleID, p.Winnings, p.Amount)
		}
		if err := e.ResolvePayout(ctx, owner, p.GambleID, p.Winnings); err != nil {
			t.Fatalf("ResolvePayout(%d): %v", p.GambleID, err)
		}
		total = total.Add(p.Winnings)
	}
	if total.Cmp(payable) > 0 {
		t.Errorf("total payouts %s exceed payable %s", total, payable)
	}
	if len(e.PendingPayouts()) != 0 {
		t.Error("pending payouts remain after resolution")
	}
	if e.EscrowBalance().Sign() < 0 {
		t.Errorf("escrow overdrawn: %s", e.EscrowBalance())
	}
}

func TestHouseShare(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		payable int64
		percent int
		want    string
	}{
		{"reference split", 21_000_000, 11_000_000, 40, "4000000"},
		{"rounds down", 10, 3, 50, "3"},
		{"no surplus", 5, 5, 40, "0"},
		{"zero percent", 100, 0, 0, "0"},
		{"clamped percent", 100, 0, 150, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HouseShare(models.NewAmount(tt.total), models.NewAmount(tt.payable), tt.percent)
			if got.String() != tt.want {
				t.Errorf("HouseShare = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProRataWinnings(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		placed int64
		tally  int64
		want   string
	}{
		{"reference gamble", 10_000_000, 11_000_000, 21_000_000, "4761905"},
		{"small stake", 1_000_000, 11_000_000, 21_000_000, "476191"},
		{"everyone on winner", 5, 10, 10, "0"},
		{"empty tally", 7, 0, 0, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProRataWinnings(models.NewAmount(tt.amount), models.NewAmount(tt.placed), models.NewAmount(tt.tally))
			if got.String() != tt.want {
				t.Errorf("ProRataWinnings = %s, want %s", got, tt.want)
			}
		})
	}
}
