// Package store provides SQLite-backed queue and history persistence.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yonagi/tsbox/internal/domain/track"
)

// ErrNotFound is returned when a queue item does not exist.
var ErrNotFound = errors.New("queue item not found")

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at   TIMESTAMP NOT NULL,
	source_ref   TEXT NOT NULL,
	title        TEXT NOT NULL,
	artist       TEXT NOT NULL DEFAULT '',
	album        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	artwork_url  TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL,
	requested_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_items_source_ref ON queue_items(source_ref);

CREATE TABLE IF NOT EXISTS history_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	played_at    TIMESTAMP NOT NULL,
	source_ref   TEXT NOT NULL,
	title        TEXT NOT NULL,
	artist       TEXT NOT NULL DEFAULT '',
	album        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	artwork_url  TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL,
	requested_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_items_played_at ON history_items(played_at);
`

// Store persists the playback queue and play history.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite handles a single writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const queueColumns = "id, created_at, source_ref, title, artist, album, duration_ms, artwork_url, source_url, requested_by"

// Enqueue appends an item to the queue and returns its assigned ID.
func (s *Store) Enqueue(ctx context.Context, item track.QueueItem) (int64, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (created_at, source_ref, title, artist, album, duration_ms, artwork_url, source_url, requested_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		createdAt, item.Track.SourceRef, item.Track.Title, item.Track.Artist, item.Track.Album,
		item.Track.Duration.Milliseconds(), item.Track.ArtworkURL, item.Track.SourceURL, item.RequestedBy)
	if err != nil {
		return 0, errors.Wrap(err, "failed to enqueue item")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read inserted id")
	}
	return id, nil
}

// DeleteByID removes a queue item. Deleting a missing item is not an error.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete queue item")
	}
	return nil
}

// GetByID returns a queue item, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*track.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue item")
	}
	return item, nil
}

// ListAll returns the whole queue ordered by ID.
func (s *Store) ListAll(ctx context.Context, ascending bool) ([]track.QueueItem, error) {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	return s.queryQueue(ctx, `SELECT `+queueColumns+` FROM queue_items ORDER BY id `+order)
}

// ListAfter returns up to limit items with ID strictly greater than id, ascending.
func (s *Store) ListAfter(ctx context.Context, id int64, limit int) ([]track.QueueItem, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE id > ? ORDER BY id ASC LIMIT ?`, id, limit)
}

// ListBefore returns up to limit items with ID strictly less than id, descending.
func (s *Store) ListBefore(ctx context.Context, id int64, limit int) ([]track.QueueItem, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE id < ? ORDER BY id DESC LIMIT ?`, id, limit)
}

// First returns the queue item with the smallest ID, or nil for an empty queue.
func (s *Store) First(ctx context.Context) (*track.QueueItem, error) {
	return s.firstOrLast(ctx, "ASC")
}

// Last returns the queue item with the largest ID, or nil for an empty queue.
func (s *Store) Last(ctx context.Context) (*track.QueueItem, error) {
	return s.firstOrLast(ctx, "DESC")
}

func (s *Store) firstOrLast(ctx context.Context, order string) (*track.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items ORDER BY id `+order+` LIMIT 1`)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query queue boundary")
	}
	return item, nil
}

// AppendHistory writes a play history record.
func (s *Store) AppendHistory(ctx context.Context, rec track.HistoryRecord) error {
	playedAt := rec.PlayedAt
	if playedAt.IsZero() {
		playedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_items (played_at, source_ref, title, artist, album, duration_ms, artwork_url, source_url, requested_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		playedAt, rec.Track.SourceRef, rec.Track.Title, rec.Track.Artist, rec.Track.Album,
		rec.Track.Duration.Milliseconds(), rec.Track.ArtworkURL, rec.Track.SourceURL, rec.RequestedBy)
	if err != nil {
		return errors.Wrap(err, "failed to append history")
	}
	return nil
}

// ListHistory returns up to limit history records, newest first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]track.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, played_at, source_ref, title, artist, album, duration_ms, artwork_url, source_url, requested_by
		 FROM history_items ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list history")
	}
	defer rows.Close()

	records := make([]track.HistoryRecord, 0, limit)
	for rows.Next() {
		var rec track.HistoryRecord
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.PlayedAt, &rec.Track.SourceRef, &rec.Track.Title,
			&rec.Track.Artist, &rec.Track.Album, &durationMs, &rec.Track.ArtworkURL,
			&rec.Track.SourceURL, &rec.RequestedBy); err != nil {
			return nil, errors.Wrap(err, "failed to scan history record")
		}
		rec.Track.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) queryQueue(ctx context.Context, query string, args ...any) ([]track.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query queue")
	}
	defer rows.Close()

	var items []track.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan queue item")
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row scanner) (*track.QueueItem, error) {
	var item track.QueueItem
	var durationMs int64
	if err := row.Scan(&item.ID, &item.CreatedAt, &item.Track.SourceRef, &item.Track.Title,
		&item.Track.Artist, &item.Track.Album, &durationMs, &item.Track.ArtworkURL,
		&item.Track.SourceURL, &item.RequestedBy); err != nil {
		return nil, err
	}
	item.Track.Duration = time.Duration(durationMs) * time.Millisecond
	return &item, nil
}
