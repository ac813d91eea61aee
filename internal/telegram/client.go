// Package telegram provides the operator channel: lifecycle notices sent through
// the Telegram Bot API and a few bot commands for the configured chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/models"
)

const outboxSize = 64

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Operator is the part of the engine reachable from bot commands.
type Operator interface {
	GetEventDetails() models.Event
	GetBetsTally() models.Amount
	ComputePayablePool() models.Amount
	EscrowBalance() models.Amount
	FinalizeSettled(ctx context.Context, caller models.Identity) (bool, error)
}

// Client handles Telegram notifications and commands. It implements
// betting.Observer; notices are queued and delivered by Start's worker.
type Client struct {
	bot            sender
	api            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	outbox         chan string
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.api = bot
	return c, nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		outbox:         make(chan string, outboxSize),
	}
}

// Start delivers queued notices until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-c.outbox:
				if err := c.sendMarkdownV2(text); err != nil {
					logger.Warn("Telegram notice dropped: %v", err)
				}
			}
		}
	}()
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, op Operator, owner models.Identity) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, op, owner)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, op Operator, owner models.Identity) {
	// Commands act as the owner, so only the configured chat may issue them.
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		logger.Warn("Ignoring /%s from chat outside the operator channel", msg.Command())
		return
	}
	command := msg.Command()
	if err := c.sendMarkdownV2(commandReply(ctx, op, owner, command)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", command, err)
	}
}

func commandReply(ctx context.Context, op Operator, owner models.Identity, command string) string {
	switch command {
	case "ping":
		return "Pong"
	case "status":
		return formatStatus(op.GetEventDetails(), op.GetBetsTally(), op.ComputePayablePool(), op.EscrowBalance())
	case "finalize":
		ok, err := op.FinalizeSettled(ctx, owner)
		var wait *betting.WaitError
		switch {
		case errors.As(err, &wait):
			return fmt.Sprintf("⏳ Settling window still open, %s remaining", escapeMarkdownV2(wait.Remaining.Round(time.Second).String()))
		case err != nil:
			return fmt.Sprintf("⚠️ *Finalize failed*\n`%s`", escapeMarkdownV2(err.Error()))
		case ok:
			return "✅ Event settled"
		}
		return "Nothing to finalize"
	default:
		return escapeMarkdownV2("Unknown command. Try /ping, /status or /finalize.")
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) enqueue(text string) {
	select {
	case c.outbox <- text:
	default:
		logger.Warn("Telegram outbox full, dropping notice")
	}
}

// SendError sends a settlement error notification.
func (c *Client) SendError(op string, err error) error {
	text := fmt.Sprintf("⚠️ *%s failed*\n`%s`", escapeMarkdownV2(op), escapeMarkdownV2(err.Error()))
	return c.sendMarkdownV2(text)
}

func (c *Client) PhaseChanged(ev models.Event, from models.Phase) {
	c.enqueue(formatPhaseChange(ev, from))
}

func (c *Client) WinnerDeclared(ev models.Event, winner models.Participant) {
	c.enqueue(fmt.Sprintf("🏆 *%s*: winner is %s",
		escapeMarkdownV2(ev.Name), escapeMarkdownV2(winner.Name)))
}

// BetPlaced is not relayed; individual bets would flood the channel.
func (c *Client) BetPlaced(models.Gamble) {}

func (c *Client) Transferred(t models.Transfer) {
	c.enqueue(formatTransfer(t))
}

var _ betting.Observer = (*Client)(nil)

func formatPhaseChange(ev models.Event, from models.Phase) string {
	title := escapeMarkdownV2(ev.Name)
	switch ev.Status {
	case models.PhaseBetting:
		return fmt.Sprintf("🎲 *%s* is open for bets until %s", title,
			escapeMarkdownV2(ev.SettlingTime.UTC().Format("2006-01-02 15:04:05 MST")))
	case models.PhaseSettling:
		return fmt.Sprintf("⚖️ *%s* is settling, claims open until %s", title,
			escapeMarkdownV2(ev.SettlingTime.UTC().Format("2006-01-02 15:04:05 MST")))
	default:
		return fmt.Sprintf("🔔 *%s*: %s → %s", title, from, ev.Status)
	}
}

func formatTransfer(t models.Transfer) string {
	switch t.Kind {
	case models.TransferHouseShare:
		return fmt.Sprintf("🏦 House share of %s sent to `%s`", t.Amount, escapeMarkdownV2(string(t.Recipient)))
	default:
		return fmt.Sprintf("💸 Paid %s to `%s` for gamble %d", t.Amount, escapeMarkdownV2(string(t.Recipient)), t.GambleID)
	}
}

func formatStatus(ev models.Event, tally, payable, escrow models.Amount) string {
	if !ev.HasEvent() {
		return "No event yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *%s* \\(\\#%d\\)\n", escapeMarkdownV2(ev.Name), ev.EventID)
	fmt.Fprintf(&b, "Phase: %s\n", ev.Status)
	if id, ok := ev.WinnerID(); ok && id < len(ev.Participants) {
		fmt.Fprintf(&b, "Winner: %s\n", escapeMarkdownV2(ev.Participants[id].Name))
	}
	for _, p := range ev.Participants {
		fmt.Fprintf(&b, "  • %s: %s\n", escapeMarkdownV2(p.Name), p.BetsPlaced)
	}
	fmt.Fprintf(&b, "Tally: %s\nPayable: %s\nEscrow: %s", tally, payable, escrow)
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
