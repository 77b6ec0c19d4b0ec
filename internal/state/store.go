// Package state persists rate windows, statistics, dedup markers, and the
// conversation history in SQLite so decisions stay consistent across
// restarts.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"standin/internal/domain"

	_ "modernc.org/sqlite"
)

// ErrCorruptState means the persisted state is unreadable or inconsistent.
// It is fatal at startup: silently resetting counters would bypass the rate
// ceilings, so the operator has to intervene.
var ErrCorruptState = errors.New("corrupt persisted state")

// Store owns the SQLite database. No other component touches the persisted
// counters directly.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open state database: %w", err)
	}

	// Single connection: SQLite + one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("state migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rate_windows (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		hourly_count  INTEGER NOT NULL DEFAULT 0,
		hourly_start  DATETIME,
		daily_count   INTEGER NOT NULL DEFAULT 0,
		daily_start   DATETIME
	);

	CREATE TABLE IF NOT EXISTS control (
		id                 INTEGER PRIMARY KEY CHECK (id = 1),
		disabled           INTEGER NOT NULL DEFAULT 0,
		disabled_reason    TEXT,
		disabled_at        DATETIME,
		last_processed_id  TEXT,
		last_processed_at  DATETIME
	);

	CREATE TABLE IF NOT EXISTS statistics (
		key    TEXT PRIMARY KEY,
		value  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id    TEXT PRIMARY KEY,
		processed_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS message_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		from_me     INTEGER NOT NULL,
		text        TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_time ON message_history(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Singleton rows so Load can rely on them existing.
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO rate_windows (id) VALUES (1)`); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO control (id) VALUES (1)`)
	return err
}

// statistics keys. Skip reasons are stored as skip_<reason> rows so new
// reasons need no schema change.
const (
	statMessagesProcessed  = "messages_processed"
	statRepliesSent        = "replies_sent"
	statEmergenciesFlagged = "emergencies_flagged"
	statFailedSends        = "failed_sends"
	skipKeyPrefix          = "skip_"
)

// Load reads the full persisted state. Malformed values fail with
// ErrCorruptState; they are never silently reset.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	snap.Stats.SkipsByReason = make(map[domain.SkipReason]int64)

	var hourlyStart, dailyStart sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT hourly_count, hourly_start, daily_count, daily_start FROM rate_windows WHERE id = 1`,
	).Scan(&snap.Windows.HourlyCount, &hourlyStart, &snap.Windows.DailyCount, &dailyStart)
	if err != nil {
		return nil, fmt.Errorf("%w: rate windows: %v", ErrCorruptState, err)
	}
	snap.Windows.HourlyStart = hourlyStart.Time
	snap.Windows.DailyStart = dailyStart.Time

	if snap.Windows.HourlyCount < 0 || snap.Windows.DailyCount < 0 {
		return nil, fmt.Errorf("%w: negative window count", ErrCorruptState)
	}

	var disabled int
	var reason, lastID sql.NullString
	var disabledAt, lastAt sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT disabled, disabled_reason, disabled_at, last_processed_id, last_processed_at FROM control WHERE id = 1`,
	).Scan(&disabled, &reason, &disabledAt, &lastID, &lastAt)
	if err != nil {
		return nil, fmt.Errorf("%w: control row: %v", ErrCorruptState, err)
	}
	snap.Disabled = disabled != 0
	snap.DisabledReason = reason.String
	snap.DisabledAt = disabledAt.Time
	snap.LastProcessedID = lastID.String
	snap.LastProcessedAt = lastAt.Time

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM statistics`)
	if err != nil {
		return nil, fmt.Errorf("%w: statistics: %v", ErrCorruptState, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: statistics row: %v", ErrCorruptState, err)
		}
		if value < 0 {
			return nil, fmt.Errorf("%w: negative statistic %s", ErrCorruptState, key)
		}
		switch {
		case key == statMessagesProcessed:
			snap.Stats.MessagesProcessed = value
		case key == statRepliesSent:
			snap.Stats.RepliesSent = value
		case key == statEmergenciesFlagged:
			snap.Stats.EmergenciesFlagged = value
		case key == statFailedSends:
			snap.Stats.FailedSends = value
		case strings.HasPrefix(key, skipKeyPrefix):
			snap.Stats.SkipsByReason[domain.SkipReason(strings.TrimPrefix(key, skipKeyPrefix))] = value
		default:
			s.logger.Warn("unknown statistic key ignored", "key", key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: statistics: %v", ErrCorruptState, err)
	}

	return snap, nil
}

// Commit writes the snapshot back in one transaction and, when messageID is
// non-empty, records it as processed. Called exactly once per message, after
// the Action is finalized.
func (s *Store) Commit(ctx context.Context, snap *Snapshot, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE rate_windows SET hourly_count=?, hourly_start=?, daily_count=?, daily_start=? WHERE id = 1`,
		snap.Windows.HourlyCount, nullTime(snap.Windows.HourlyStart),
		snap.Windows.DailyCount, nullTime(snap.Windows.DailyStart),
	)
	if err != nil {
		return fmt.Errorf("commit windows: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE control SET disabled=?, disabled_reason=?, disabled_at=?, last_processed_id=?, last_processed_at=? WHERE id = 1`,
		boolToInt(snap.Disabled), nullString(snap.DisabledReason), nullTime(snap.DisabledAt),
		nullString(snap.LastProcessedID), nullTime(snap.LastProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("commit control: %w", err)
	}

	setStat := func(key string, value int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO statistics (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	}
	if err := setStat(statMessagesProcessed, snap.Stats.MessagesProcessed); err != nil {
		return fmt.Errorf("commit statistics: %w", err)
	}
	if err := setStat(statRepliesSent, snap.Stats.RepliesSent); err != nil {
		return fmt.Errorf("commit statistics: %w", err)
	}
	if err := setStat(statEmergenciesFlagged, snap.Stats.EmergenciesFlagged); err != nil {
		return fmt.Errorf("commit statistics: %w", err)
	}
	if err := setStat(statFailedSends, snap.Stats.FailedSends); err != nil {
		return fmt.Errorf("commit statistics: %w", err)
	}
	for reason, value := range snap.Stats.SkipsByReason {
		if err := setStat(skipKeyPrefix+string(reason), value); err != nil {
			return fmt.Errorf("commit statistics: %w", err)
		}
	}

	if messageID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO processed_messages (message_id) VALUES (?)`, messageID)
		if err != nil {
			return fmt.Errorf("commit dedup marker: %w", err)
		}
	}

	return tx.Commit()
}

// Seen reports whether a message ID was already processed. Called at the
// boundary so a redelivered message never double-counts.
func (s *Store) Seen(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HistoryEntry is one remembered conversation turn.
type HistoryEntry struct {
	FromMe bool      `json:"from_me"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// AppendHistory records a conversation turn and trims the history to
// maxHistory entries.
func (s *Store) AppendHistory(ctx context.Context, fromMe bool, text string, at time.Time, maxHistory int) error {
	if maxHistory < 1 {
		maxHistory = 50
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_history (from_me, text, created_at) VALUES (?, ?, ?)`,
		boolToInt(fromMe), text, at,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM message_history WHERE id NOT IN (
			SELECT id FROM message_history ORDER BY id DESC LIMIT ?)`, maxHistory)
	return err
}

// History returns the most recent turns in chronological order.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_me, text, created_at FROM message_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var fromMe int
		var e HistoryEntry
		if err := rows.Scan(&fromMe, &e.Text, &e.At); err != nil {
			return nil, err
		}
		e.FromMe = fromMe != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SetDisabled flips the bot kill-switch directly. Used by the enable/disable
// CLI commands; the running engine reads the flag from its snapshot.
func (s *Store) SetDisabled(ctx context.Context, disabled bool, reason string) error {
	var at any
	if disabled {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE control SET disabled=?, disabled_reason=?, disabled_at=? WHERE id = 1`,
		boolToInt(disabled), nullString(reason), at,
	)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
