package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// CreateListener registers an event listener.
func (db *DB) CreateListener(ctx context.Context, l *model.EventListener) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Created.IsZero() {
		l.Created = time.Now().UTC()
	}
	var access []byte
	if l.Access != nil {
		var err error
		if access, err = json.Marshal(l.Access); err != nil {
			return fmt.Errorf("encode access policy: %w", err)
		}
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO listeners (id, name, description, access, created) VALUES ($1,$2,$3,$4,$5)
	`, l.ID, l.Name, l.Description, access, l.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("listener %s: %w", l.Name, ErrConflict)
		}
		return fmt.Errorf("insert listener: %w", err)
	}
	return nil
}

// GetListener returns a listener by id.
func (db *DB) GetListener(ctx context.Context, id string) (*model.EventListener, error) {
	return db.getListener(ctx, `id`, id)
}

// GetListenerByName returns a listener by its routing name.
func (db *DB) GetListenerByName(ctx context.Context, name string) (*model.EventListener, error) {
	return db.getListener(ctx, `name`, name)
}

func (db *DB) getListener(ctx context.Context, column, value string) (*model.EventListener, error) {
	var (
		l      model.EventListener
		access []byte
	)
	row := db.pool.QueryRow(ctx, `
		SELECT id, name, description, access, created FROM listeners WHERE `+column+`=$1
	`, value)
	if err := row.Scan(&l.ID, &l.Name, &l.Description, &access, &l.Created); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("listener %s: %w", value, ErrNotFound)
		}
		return nil, fmt.Errorf("select listener: %w", err)
	}
	if len(access) > 0 {
		l.Access = &model.AccessPolicy{}
		if err := json.Unmarshal(access, l.Access); err != nil {
			return nil, fmt.Errorf("decode access policy: %w", err)
		}
	}
	return &l, nil
}

// DeleteListener removes a listener. Feed associations are left in place.
func (db *DB) DeleteListener(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM listeners WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete listener: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listener %s: %w", id, ErrNotFound)
	}
	return nil
}
