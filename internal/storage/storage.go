// Package storage provides SQLite-backed persistence for events, the participant
// roster, gambles and transfers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/betledger/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database and implements betting.Store.
type Storage struct {
	db        *sql.DB
	maxEvents int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/betledger/data.db.
// maxEvents bounds how many past events are retained; zero keeps all of them.
func New(maxEvents int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "betledger", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxEvents: maxEvents}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id          INTEGER PRIMARY KEY,
			name              TEXT NOT NULL,
			description       TEXT,
			start_time        INTEGER NOT NULL,
			settling_time     INTEGER NOT NULL,
			end_time          INTEGER NOT NULL DEFAULT 0,
			betting_duration  INTEGER NOT NULL,
			settling_duration INTEGER NOT NULL,
			status            INTEGER NOT NULL,
			winner            INTEGER NOT NULL DEFAULT 0,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id          INTEGER PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			base_value  TEXT NOT NULL,
			bets_placed TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE TABLE IF NOT EXISTS gambles (
			event_id       INTEGER NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
			id             INTEGER NOT NULL,
			gambler        TEXT NOT NULL,
			participant_id INTEGER NOT NULL,
			amount         TEXT NOT NULL,
			status         INTEGER NOT NULL DEFAULT 0,
			claimed        INTEGER NOT NULL DEFAULT 0,
			paid           INTEGER NOT NULL DEFAULT 0,
			payout         TEXT NOT NULL DEFAULT '0',
			placed_at      INTEGER NOT NULL,
			PRIMARY KEY (event_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			id         TEXT PRIMARY KEY,
			event_id   INTEGER NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			gamble_id  INTEGER NOT NULL,
			amount     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gambles_gambler ON gambles(event_id, gambler)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_event ON transfers(event_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the latest event with the roster and that event's gambles and
// transfers. An empty database yields an empty snapshot.
func (s *Storage) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events ORDER BY event_id DESC LIMIT 1`)
	ev, err := scanEvent(row.Scan)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to load event: %w", err)
	default:
		snap.Event = *ev
	}

	if snap.Participants, err = s.participants(ctx); err != nil {
		return nil, err
	}
	if snap.Event.EventID == 0 {
		return snap, nil
	}
	if snap.Gambles, err = s.Gambles(ctx, snap.Event.EventID); err != nil {
		return nil, err
	}
	if snap.Transfers, err = s.Transfers(ctx, snap.Event.EventID); err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit persists a changeset in a single transaction.
func (s *Storage) Commit(ctx context.Context, ch *models.Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if ch.Event != nil {
		if err := ch.Event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
		if err := upsertEvent(ctx, tx, ch.Event); err != nil {
			return err
		}
	}
	if ch.ClearParticipants {
		if _, err := tx.ExecContext(ctx, `DELETE FROM participants`); err != nil {
			return fmt.Errorf("failed to clear participants: %w", err)
		}
	}
	for i := range ch.Participants {
		if err := upsertParticipant(ctx, tx, &ch.Participants[i]); err != nil {
			return err
		}
	}
	for i := range ch.Gambles {
		if err := upsertGamble(ctx, tx, &ch.Gambles[i]); err != nil {
			return err
		}
	}
	for i := range ch.Transfers {
		if err := insertTransfer(ctx, tx, &ch.Transfers[i]); err != nil {
			return err
		}
	}
	if ch.ResetLedger && s.maxEvents > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE event_id NOT IN (
				SELECT event_id FROM events ORDER BY event_id DESC LIMIT ?
			)`, s.maxEvents); err != nil {
			return fmt.Errorf("failed to enforce event cap: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changeset: %w", err)
	}
	return nil
}

// Events returns retained event headers, newest first.
func (s *Storage) Events(ctx context.Context) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+` FROM events ORDER BY event_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// Gambles returns the ledger of eventID in placement order.
func (s *Storage) Gambles(ctx context.Context, eventID int64) ([]models.Gamble, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, id, gambler, participant_id, amount, status, claimed, paid, payout, placed_at
		FROM gambles WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gambles: %w", err)
	}
	defer rows.Close()

	var gambles []models.Gamble
	for rows.Next() {
		var g models.Gamble
		var claimed, paid int
		var placedAtNano int64
		err := rows.Scan(
			&g.EventID, &g.ID, &g.Gambler, &g.ParticipantID, &g.Amount,
			&g.Status, &claimed, &paid, &g.Payout, &placedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gamble: %w", err)
		}
		g.Claimed = claimed != 0
		g.Paid = paid != 0
		g.PlacedAt = time.Unix(0, placedAtNano).UTC()
		gambles = append(gambles, g)
	}
	return gambles, rows.Err()
}

// Transfers returns the outflows of eventID in the order they were recorded.
func (s *Storage) Transfers(ctx context.Context, eventID int64) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, kind, recipient, gamble_id, amount, created_at
		FROM transfers WHERE event_id = ? ORDER BY rowid`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var t models.Transfer
		var createdAtNano int64
		err := rows.Scan(&t.ID, &t.EventID, &t.Kind, &t.Recipient, &t.GambleID, &t.Amount, &createdAtNano)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.CreatedAt = time.Unix(0, createdAtNano).UTC()
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (s *Storage) participants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, base_value, bets_placed FROM participants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.BaseValue, &p.BetsPlaced); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func upsertEvent(ctx context.Context, tx *sql.Tx, ev *models.Event) error {
	// ON CONFLICT rather than INSERT OR REPLACE: a replace deletes the row and
	// would cascade to the event's gambles and transfers.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events
			(event_id, name, description, start_time, settling_time, end_time,
			 betting_duration, settling_duration, status, winner, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(event_id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			start_time=excluded.start_time, settling_time=excluded.settling_time,
			end_time=excluded.end_time, betting_duration=excluded.betting_duration,
			settling_duration=excluded.settling_duration, status=excluded.status,
			winner=excluded.winner, updated_at=excluded.updated_at`,
		ev.EventID, ev.Name, ev.Description,
		ev.StartTime.UnixNano(), ev.SettlingTime.UnixNano(), unixNano(ev.EndTime),
		int64(ev.BettingDuration), int64(ev.SettlingDuration),
		int(ev.Status), ev.Winner, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

func upsertParticipant(ctx context.Context, tx *sql.Tx, p *models.Participant) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO participants (id, name, description, base_value, bets_placed)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			base_value=excluded.base_value, bets_placed=excluded.bets_placed`,
		p.ID, p.Name, p.Description, p.BaseValue, p.BetsPlaced,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func upsertGamble(ctx context.Context, tx *sql.Tx, g *models.Gamble) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid gamble: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO gambles
			(event_id, id, gambler, participant_id, amount, status, claimed, paid, payout, placed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(event_id, id) DO UPDATE SET
			status=excluded.status, claimed=excluded.claimed,
			paid=excluded.paid, payout=excluded.payout`,
		g.EventID, g.ID, string(g.Gambler), g.ParticipantID, g.Amount,
		int(g.Status), boolToInt(g.Claimed), boolToInt(g.Paid), g.Payout, g.PlacedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert gamble: %w", err)
	}
	return nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, t *models.Transfer) error {
	if t.Amount.Sign() <= 0 {
		return fmt.Errorf("invalid transfer: amount must be positive")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (id, event_id, kind, recipient, gamble_id, amount, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.EventID, string(t.Kind), string(t.Recipient), t.GambleID, t.Amount, t.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

const eventCols = `event_id, name, description, start_time, settling_time, end_time,
	betting_duration, settling_duration, status, winner`

func scanEvent(scan func(...any) error) (*models.Event, error) {
	var ev models.Event
	var startNano, settlingNano, endNano, bettingDur, settlingDur int64
	var status int
	err := scan(
		&ev.EventID, &ev.Name, &ev.Description,
		&startNano, &settlingNano, &endNano,
		&bettingDur, &settlingDur, &status, &ev.Winner,
	)
	if err != nil {
		return nil, err
	}
	ev.StartTime = time.Unix(0, startNano).UTC()
	ev.SettlingTime = time.Unix(0, settlingNano).UTC()
	if endNano != 0 {
		ev.EndTime = time.Unix(0, endNano).UTC()
	}
	ev.BettingDuration = time.Duration(bettingDur)
	ev.SettlingDuration = time.Duration(settlingDur)
	ev.Status = models.Phase(status)
	return &ev, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
