package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/betledger/internal/api"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/config"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/metrics"
	"github.com/rewired-gh/betledger/internal/models"
	"github.com/rewired-gh/betledger/internal/telegram"
)

type app struct {
	cfg    *config.Config
	engine *betting.Engine
	out    io.Writer
	// sleep waits between finalize attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (a *app) owner() models.Identity {
	return a.cfg.OwnerIdentity()
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(a.out)

	switch command {
	case "seed":
		return a.seed(ctx)
	case "status":
		return a.status()
	case "bet":
		as := fs.String("as", "", "Gambler identity")
		participant := fs.Int("participant", -1, "Participant id")
		amount := fs.String("amount", "", "Stake in atomic units")
		if err := fs.Parse(args); err != nil {
			return err
		}
		stake, err := models.ParseAmount(*amount)
		if err != nil {
			return fmt.Errorf("%w: %v", betting.ErrInvalidAmount, err)
		}
		id, err := a.engine.PlaceBet(ctx, models.Identity(*as), *participant, stake)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Placed gamble %d\n", id)
		return nil
	case "advance":
		return a.engine.ForciblyAdvanceToOngoing(ctx, a.owner())
	case "start":
		return a.engine.StartEvent(ctx, a.owner())
	case "declare":
		participant := fs.Int("participant", -1, "Winning participant id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.engine.DeclareWinner(ctx, a.owner(), *participant)
	case "settle":
		share := fs.String("share", "", "House share in atomic units (default: configured percent of the surplus)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.settle(ctx, *share)
	case "claim":
		as := fs.String("as", "", "Gambler identity")
		gamble := fs.Int("gamble", -1, "Gamble id (default: every winning gamble)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.claim(ctx, models.Identity(*as), *gamble)
	case "finalize":
		wait := fs.Bool("wait", false, "Retry until the settling window elapses")
		if err := fs.Parse(args); err != nil {
			return err
		}
		attempts := 1
		if *wait {
			attempts = a.cfg.Settlement.FinalizeMaxAttempts
		}
		return a.finalize(ctx, attempts)
	case "payouts":
		return a.payouts(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// seed mirrors the admin seed script: clear the roster, create the event, set participants.
func (a *app) seed(ctx context.Context) error {
	seed := a.cfg.Seed
	if len(seed.Participants) == 0 {
		return fmt.Errorf("seed.participants is empty")
	}
	if err := a.engine.ClearParticipants(ctx, a.owner()); err != nil {
		return err
	}
	id, err := a.engine.CreateEvent(ctx, a.owner(), seed.Event.Name, seed.Event.Description,
		seed.Event.BettingDuration, seed.Event.SettlingDuration)
	if err != nil {
		return err
	}
	if err := a.engine.SetParticipants(ctx, a.owner(), a.cfg.SeedParticipants()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created event %d with %d participants\n", id, len(seed.Participants))
	return nil
}

func (a *app) status() error {
	ev := a.engine.GetEventDetails()
	if !ev.HasEvent() {
		fmt.Fprintln(a.out, "No event")
		return nil
	}
	fmt.Fprintf(a.out, "Event %d: %s (%s)\n", ev.EventID, ev.Name, ev.Status)
	fmt.Fprintf(a.out, "Started %s, settling gate %s\n",
		ev.StartTime.Format(time.RFC3339), ev.SettlingTime.Format(time.RFC3339))
	winnerID, declared := ev.WinnerID()
	for _, p := range ev.Participants {
		marker := ""
		if declared && p.ID == winnerID {
			marker = " [winner]"
		}
		fmt.Fprintf(a.out, "  %d. %s: %s placed, min %s%s\n", p.ID, p.Name, p.BetsPlaced, p.BaseValue, marker)
	}
	fmt.Fprintf(a.out, "Gambles: %d\nTally: %s\nPayable: %s\nEscrow: %s\n",
		len(a.engine.GetAllGambles()), a.engine.GetBetsTally(),
		a.engine.ComputePayablePool(), a.engine.EscrowBalance())
	return nil
}

func (a *app) settle(ctx context.Context, explicit string) error {
	share := betting.HouseShare(a.engine.GetBetsTally(), a.engine.ComputePayablePool(), a.cfg.Settlement.HouseSharePercent)
	if explicit != "" {
		parsed, err := models.ParseAmount(explicit)
		if err != nil {
			return fmt.Errorf("%w: %v", betting.ErrInvalidAmount, err)
		}
		share = parsed
	}
	if err := a.engine.StartSettling(ctx, a.owner(), share); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Settlement started, house share %s\n", share)
	return nil
}

func (a *app) claim(ctx context.Context, gambler models.Identity, gambleID int) error {
	if gambleID >= 0 {
		if err := a.engine.Claim(ctx, gambler, gambleID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Claimed gamble %d\n", gambleID)
		return nil
	}
	ids, err := a.engine.ClaimAll(ctx, gambler)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Claimed gambles %v\n", ids)
	return nil
}

// finalize calls FinalizeSettled, retrying TooEarly with a linear backoff that
// never sleeps past the reported gate.
func (a *app) finalize(ctx context.Context, attempts int) error {
	interval := a.cfg.Settlement.FinalizeRetryInterval
	sleep := a.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var ok bool
		ok, err = a.engine.FinalizeSettled(ctx, a.owner())
		if ok {
			fmt.Fprintln(a.out, "Event settled")
			return nil
		}
		var wait *betting.WaitError
		if !errors.As(err, &wait) || attempt == attempts {
			break
		}
		delay := interval * time.Duration(attempt)
		if wait.Remaining < delay {
			delay = wait.Remaining
		}
		logger.Info("Settling window open for another %s, retrying in %s (attempt %d/%d)",
			wait.Remaining, delay, attempt, attempts)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// payouts resolves every claimed winning gamble with its pro-rata winnings.
func (a *app) payouts(ctx context.Context) error {
	plans := a.engine.PendingPayouts()
	if len(plans) == 0 {
		fmt.Fprintln(a.out, "No pending payouts")
		return nil
	}
	for _, p := range plans {
		if err := a.engine.ResolvePayout(ctx, a.owner(), p.GambleID, p.Winnings); err != nil {
			return fmt.Errorf("gamble %d: %w", p.GambleID, err)
		}
		fmt.Fprintf(a.out, "Paid %s to %s for gamble %d\n", p.Winnings, p.Gambler, p.GambleID)
	}
	return nil
}

// serve runs the HTTP API until ctx is cancelled.
func (a *app) serve(ctx context.Context, collector *metrics.Collector, telegramClient *telegram.Client) error {
	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	if collector != nil {
		collector.Sync(a.engine.GetEventDetails())
	}
	if telegramClient != nil {
		telegramClient.Start(ctx)
		telegramClient.ListenForCommands(ctx, a.engine, a.owner())
	}

	handler := api.NewHandler(a.engine, collector, a.cfg.Settlement.HouseSharePercent)
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      handler.NewRouter(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		if telegramClient != nil {
			if sendErr := telegramClient.SendError("HTTP server", err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	logger.Info("Service stopped")
	return nil
}
