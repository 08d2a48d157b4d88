package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// DeliveredItem is one row of the dedup ledger. Rows are append-only and
// never pruned; the ledger is what guarantees at-most-once delivery.
type DeliveredItem struct {
	ItemID     string    `db:"item_id"`
	SourceType string    `db:"source_type"`
	Title      string    `db:"title"`
	SentAt     time.Time `db:"sent_at"`
	IsBreaking bool      `db:"is_breaking"`
}

// QueueEntry is a summarized non-urgent item waiting for a digest flush.
type QueueEntry struct {
	ItemID     string    `db:"item_id"`
	Title      string    `db:"title"`
	Summary    string    `db:"summary"`
	Category   string    `db:"category"`
	SourceURL  string    `db:"source_url"`
	SourceType string    `db:"source_type"`
	CreatedAt  time.Time `db:"created_at"`
	IsSent     bool      `db:"is_sent"`
}

// DB wraps the SQLite file and provides the delivered-set and digest-queue
// operations.
type DB struct {
	conn *sqlx.DB
}

// NewDB opens (creating parent directories if needed) the database file and
// initializes the schema idempotently.
func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sent_items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     TEXT UNIQUE NOT NULL,
		source_type TEXT NOT NULL,
		title       TEXT,
		sent_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_breaking INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS digest_queue (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     TEXT UNIQUE NOT NULL,
		title       TEXT NOT NULL,
		summary     TEXT,
		category    TEXT,
		source_url  TEXT,
		source_type TEXT,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_sent     INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_digest_queue_is_sent ON digest_queue(is_sent);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// IsDelivered reports whether an item identifier is already in the ledger.
func (db *DB) IsDelivered(ctx context.Context, itemID string) (bool, error) {
	var one int
	err := db.conn.GetContext(ctx, &one,
		`SELECT 1 FROM sent_items WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkDelivered records an item as delivered. Inserting an existing item_id
// is a no-op, which is what makes concurrent job overlap harmless.
func (db *DB) MarkDelivered(ctx context.Context, itemID, sourceType, title string, isBreaking bool) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_items (item_id, source_type, title, is_breaking)
		 VALUES (?, ?, ?, ?)`,
		itemID, sourceType, title, boolToInt(isBreaking))
	return err
}

// GetDelivered returns the ledger row for an item, or ErrNotFound.
func (db *DB) GetDelivered(ctx context.Context, itemID string) (*DeliveredItem, error) {
	item := &DeliveredItem{}
	err := db.conn.GetContext(ctx, item,
		`SELECT item_id, source_type, title, sent_at, is_breaking
		 FROM sent_items WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Enqueue adds a summarized item to the digest queue, ignoring duplicates.
func (db *DB) Enqueue(ctx context.Context, e *QueueEntry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO digest_queue
		 (item_id, title, summary, category, source_url, source_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.Title, e.Summary, e.Category, e.SourceURL, e.SourceType)
	return err
}

// Pending returns unsent queue entries, oldest first.
func (db *DB) Pending(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := db.conn.SelectContext(ctx, &entries,
		`SELECT item_id, title, summary, category, source_url, source_type, created_at, is_sent
		 FROM digest_queue WHERE is_sent = 0 ORDER BY created_at ASC`)
	return entries, err
}

// PendingCount returns the number of unsent queue entries.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM digest_queue WHERE is_sent = 0`)
	return count, err
}

// MarkSent flips is_sent for all the given item IDs.
func (db *DB) MarkSent(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`UPDATE digest_queue SET is_sent = 1 WHERE item_id IN (?)`, itemIDs)
	if err != nil {
		return fmt.Errorf("build mark-sent query: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, db.conn.Rebind(query), args...)
	return err
}

// Prune deletes sent entries older than the retention window. Unsent entries
// and newer entries survive regardless of age.
func (db *DB) Prune(ctx context.Context, days int) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM digest_queue
		 WHERE is_sent = 1 AND created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days))
	return err
}

// TodaysItems returns every queue entry created since local midnight,
// sent or not. Backs the day-summary command.
func (db *DB) TodaysItems(ctx context.Context, loc *time.Location) ([]QueueEntry, error) {
	now := time.Now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var entries []QueueEntry
	err := db.conn.SelectContext(ctx, &entries,
		`SELECT item_id, title, summary, category, source_url, source_type, created_at, is_sent
		 FROM digest_queue WHERE created_at >= ? ORDER BY created_at ASC`,
		midnight.UTC().Format("2006-01-02 15:04:05"))
	return entries, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
