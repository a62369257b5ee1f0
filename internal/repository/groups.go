package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// CreateGroup stores a group with its members.
func (db *DB) CreateGroup(ctx context.Context, g *model.Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO groups (id, name, creator) VALUES ($1,$2,$3)`, g.ID, g.Name, g.Creator); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	for _, email := range g.Members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members (group_id, email) VALUES ($1,$2) ON CONFLICT DO NOTHING
		`, g.ID, email); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GroupIDsForUser returns the ids of every group the user created or belongs to.
func (db *DB) GroupIDsForUser(ctx context.Context, email string) ([]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id FROM groups WHERE creator=$1
		UNION
		SELECT group_id FROM group_members WHERE email=$1
	`, email)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
