package telegram

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// The chat ID is parsed before the bot token is checked against the API.
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

type fakeBot struct {
	mu    sync.Mutex
	fails int
	sent  []string
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("bad gateway")
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.sent = append(f.sent, msg.Text)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestSendMarkdownV2_Retries(t *testing.T) {
	bot := &fakeBot{fails: 2}
	c := newClient(bot, 42, 3, time.Millisecond)
	if err := c.sendMarkdownV2("hello"); err != nil {
		t.Fatalf("sendMarkdownV2: %v", err)
	}
	if got := bot.messages(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v", got)
	}

	bot = &fakeBot{fails: 5}
	c = newClient(bot, 42, 2, time.Millisecond)
	if err := c.sendMarkdownV2("hello"); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestObserver_DeliversNotices(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, 1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	ev := models.Event{EventID: 1, Name: "Demo.Day", Status: models.PhaseEnded}
	c.PhaseChanged(ev, models.PhaseSettled)
	c.BetPlaced(models.Gamble{ID: 0})
	c.Transferred(models.Transfer{Kind: models.TransferPayout, Recipient: "0xa", GambleID: 3, Amount: models.NewAmount(7)})

	deadline := time.Now().Add(2 * time.Second)
	for len(bot.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := bot.messages()
	if len(got) != 2 {
		t.Fatalf("got %d notices, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "Demo\\.Day") || !strings.Contains(got[0], "SETTLED → ENDED") {
		t.Errorf("phase notice = %q", got[0])
	}
	if got[1] != "💸 Paid 7 to `0xa` for gamble 3" {
		t.Errorf("transfer notice = %q", got[1])
	}
}

type fakeOperator struct {
	ev        models.Event
	finalized bool
	err       error
}

func (f *fakeOperator) GetEventDetails() models.Event     { return f.ev }
func (f *fakeOperator) GetBetsTally() models.Amount       { return models.NewAmount(31_000_000) }
func (f *fakeOperator) ComputePayablePool() models.Amount { return models.NewAmount(21_000_000) }
func (f *fakeOperator) EscrowBalance() models.Amount      { return models.NewAmount(27_000_000) }
func (f *fakeOperator) FinalizeSettled(context.Context, models.Identity) (bool, error) {
	return f.finalized, f.err
}

func TestCommandReply(t *testing.T) {
	ctx := context.Background()
	ev := models.Event{
		EventID: 2,
		Name:    "Test Event",
		Status:  models.PhaseSettling,
		Winner:  2,
		Participants: []models.Participant{
			{Name: "First", BetsPlaced: models.NewAmount(10_000_000)},
			{Name: "Second", BetsPlaced: models.NewAmount(21_000_000)},
		},
	}

	tests := []struct {
		name    string
		op      *fakeOperator
		command string
		want    string
	}{
		{"ping", &fakeOperator{}, "ping", "Pong"},
		{"status without event", &fakeOperator{}, "status", "No event yet"},
		{"status", &fakeOperator{ev: ev}, "status", "Winner: Second"},
		{"finalize too early", &fakeOperator{err: &betting.WaitError{Op: "FinalizeSettled", Remaining: 90 * time.Second}}, "finalize", "1m30s remaining"},
		{"finalize failed", &fakeOperator{err: betting.ErrInvalidState}, "finalize", "Finalize failed"},
		{"finalize ok", &fakeOperator{finalized: true}, "finalize", "Event settled"},
		{"unknown", &fakeOperator{}, "bogus", "Unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := commandReply(ctx, tt.op, "0xowner", tt.command)
			if !strings.Contains(got, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestHandleCommand_IgnoresOtherChats(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, 1, time.Millisecond)
	msg := &tgbotapi.Message{
		Text:     "/ping",
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}
	c.handleCommand(context.Background(), msg, &fakeOperator{}, "0xowner")
	if len(bot.messages()) != 0 {
		t.Error("replied to a foreign chat")
	}

	msg.Chat.ID = 42
	c.handleCommand(context.Background(), msg, &fakeOperator{}, "0xowner")
	if got := bot.messages(); len(got) != 1 || got[0] != "Pong" {
		t.Errorf("sent = %v", got)
	}
}

func TestHandleCommand_ReplyDelivery(t *testing.T) {
	msg := &tgbotapi.Message{
		Text:     "/finalize",
		Chat:     &tgbotapi.Chat{ID: 42},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 9}},
	}

	bot := &fakeBot{fails: 1}
	c := newClient(bot, 42, 2, time.Millisecond)
	c.handleCommand(context.Background(), msg, &fakeOperator{finalized: true}, "0xowner")
	if got := bot.messages(); len(got) != 1 || got[0] != "✅ Event settled" {
		t.Errorf("sent = %v", got)
	}

	var buf bytes.Buffer
	logger.InitWriter(&buf, "warn", "text")
	t.Cleanup(func() { logger.InitWriter(&bytes.Buffer{}, "error", "text") })
	bot = &fakeBot{fails: 5}
	c = newClient(bot, 42, 2, time.Millisecond)
	c.handleCommand(context.Background(), msg, &fakeOperator{finalized: true}, "0xowner")
	if !strings.Contains(buf.String(), "Failed to reply to /finalize") {
		t.Errorf("undelivered reply not logged: %q", buf.String())
	}
}
