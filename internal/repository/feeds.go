package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// CreateFeed stores a feed and its listener associations.
func (db *DB) CreateFeed(ctx context.Context, f *model.Feed) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO feeds (id, name, creator, search, created) VALUES ($1,$2,$3,$4,$5)
	`, f.ID, f.Name, f.Creator, []byte(f.Search), f.Created)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	for i, l := range f.Listeners {
		if err := insertFeedListener(ctx, tx, f.ID, l, i); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertFeedListener(ctx context.Context, tx pgx.Tx, feedID string, l model.FeedListener, position int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO feed_listeners (feed_id, listener_id, automatic, position) VALUES ($1,$2,$3,$4)
		ON CONFLICT (feed_id, listener_id) DO UPDATE SET automatic = EXCLUDED.automatic
	`, feedID, l.ListenerID, l.Automatic, position)
	if err != nil {
		return fmt.Errorf("insert feed listener: %w", err)
	}
	return nil
}

// GetFeed returns a feed with its associations.
func (db *DB) GetFeed(ctx context.Context, id string) (*model.Feed, error) {
	var (
		f      model.Feed
		search []byte
	)
	row := db.pool.QueryRow(ctx, `SELECT id, name, creator, search, created FROM feeds WHERE id=$1`, id)
	if err := row.Scan(&f.ID, &f.Name, &f.Creator, &search, &f.Created); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("feed %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select feed: %w", err)
	}
	f.Search = json.RawMessage(search)
	feeds := []*model.Feed{&f}
	if err := db.loadFeedListeners(ctx, feeds); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFeeds returns feeds newest first, optionally filtered by exact name.
func (db *DB) ListFeeds(ctx context.Context, name string, offset, limit int) ([]model.Feed, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, name, creator, search, created FROM feeds
		WHERE $1 = '' OR name = $1
		ORDER BY created DESC
		OFFSET $2 LIMIT $3
	`, name, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select feeds: %w", err)
	}
	return db.collectFeeds(ctx, rows)
}

// AutomaticFeeds returns every feed with at least one automatic listener.
func (db *DB) AutomaticFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT f.id, f.name, f.creator, f.search, f.created FROM feeds f
		WHERE EXISTS (SELECT 1 FROM feed_listeners fl WHERE fl.feed_id = f.id AND fl.automatic)
		ORDER BY f.created, f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("select automatic feeds: %w", err)
	}
	return db.collectFeeds(ctx, rows)
}

func (db *DB) collectFeeds(ctx context.Context, rows pgx.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		var (
			f      model.Feed
			search []byte
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Creator, &search, &f.Created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.Search = json.RawMessage(search)
		feeds = append(feeds, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	ptrs := make([]*model.Feed, len(feeds))
	for i := range feeds {
		ptrs[i] = &feeds[i]
	}
	if err := db.loadFeedListeners(ctx, ptrs); err != nil {
		return nil, err
	}
	return feeds, nil
}

func (db *DB) loadFeedListeners(ctx context.Context, feeds []*model.Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	byID := make(map[string]*model.Feed, len(feeds))
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		byID[f.ID] = f
		ids = append(ids, f.ID)
	}
	rows, err := db.pool.Query(ctx, `
		SELECT feed_id, listener_id, automatic FROM feed_listeners
		WHERE feed_id = ANY($1) ORDER BY feed_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("select feed listeners: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			feedID string
			l      model.FeedListener
		)
		if err := rows.Scan(&feedID, &l.ListenerID, &l.Automatic); err != nil {
			return fmt.Errorf("scan feed listener: %w", err)
		}
		byID[feedID].Listeners = append(byID[feedID].Listeners, l)
	}
	return rows.Err()
}

// DeleteFeed removes a feed; associations cascade.
func (db *DB) DeleteFeed(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM feeds WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddFeedListener appends an association, or updates its automatic flag when
// the listener is already attached.
func (db *DB) AddFeedListener(ctx context.Context, feedID string, l model.FeedListener) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var next int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM feed_listeners WHERE feed_id=$1
	`, feedID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("next position: %w", err)
	}
	if err := insertFeedListener(ctx, tx, feedID, l, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveFeedListener drops one association. Missing associations are a no-op.
func (db *DB) RemoveFeedListener(ctx context.Context, feedID, listenerID string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM feed_listeners WHERE feed_id=$1 AND listener_id=$2`, feedID, listenerID)
	if err != nil {
		return fmt.Errorf("delete feed listener: %w", err)
	}
	return nil
}
