package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/datavault/internal/model"
)

const fileColumns = `id, name, dataset_id, folder_id, creator, created, downloads, bytes, content_type, COALESCE(version_id, ''), version_num`

// InsertFile stores a new file record and returns its id. An empty ID is
// assigned here.
func (db *DB) InsertFile(ctx context.Context, f *model.File) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO files (id, name, dataset_id, folder_id, creator, created, downloads, bytes, content_type, version_id, version_num)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11)
	`, f.ID, f.Name, f.DatasetID, f.FolderID, f.Creator, f.Created, f.Downloads, f.Bytes, f.ContentType, f.VersionID, f.VersionNum)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("insert file %s: %w", f.ID, ErrConflict)
		}
		return "", fmt.Errorf("insert file: %w", err)
	}
	return f.ID, nil
}

// ReplaceFile overwrites every mutable column of an existing record.
func (db *DB) ReplaceFile(ctx context.Context, f *model.File) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE files
		SET name=$2, dataset_id=$3, folder_id=$4, creator=$5, created=$6, downloads=$7,
			bytes=$8, content_type=$9, version_id=NULLIF($10,''), version_num=$11
		WHERE id=$1
	`, f.ID, f.Name, f.DatasetID, f.FolderID, f.Creator, f.Created, f.Downloads, f.Bytes, f.ContentType, f.VersionID, f.VersionNum)
	if err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace file %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

// GetFile returns a file by id.
func (db *DB) GetFile(ctx context.Context, id string) (*model.File, error) {
	var f model.File
	row := db.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id)
	if err := row.Scan(&f.ID, &f.Name, &f.DatasetID, &f.FolderID, &f.Creator, &f.Created, &f.Downloads, &f.Bytes, &f.ContentType, &f.VersionID, &f.VersionNum); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return &f, nil
}

// DeleteFile removes the file record and reports how many rows went away.
func (db *DB) DeleteFile(ctx context.Context, id string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete file: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IncrementDownloads bumps the download counter in place.
func (db *DB) IncrementDownloads(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE files SET downloads = downloads + 1 WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertVersion appends a version record.
func (db *DB) InsertVersion(ctx context.Context, v *model.FileVersion) error {
	if v.Created.IsZero() {
		v.Created = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO file_versions (file_id, version_id, version_num, creator, bytes, content_type, created)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, v.FileID, v.VersionID, v.VersionNum, v.Creator, v.Bytes, v.ContentType, v.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert version %d of %s: %w", v.VersionNum, v.FileID, ErrConflict)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// ListVersions returns a page of versions ordered by version number.
func (db *DB) ListVersions(ctx context.Context, fileID string, offset, limit int) ([]model.FileVersion, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT version_id, version_num, file_id, creator, bytes, content_type, created
		FROM file_versions WHERE file_id=$1
		ORDER BY version_num
		OFFSET $2 LIMIT $3
	`, fileID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select versions: %w", err)
	}
	defer rows.Close()
	var out []model.FileVersion
	for rows.Next() {
		var v model.FileVersion
		if err := rows.Scan(&v.VersionID, &v.VersionNum, &v.FileID, &v.Creator, &v.Bytes, &v.ContentType, &v.Created); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVersions removes every version record of a file.
func (db *DB) DeleteVersions(ctx context.Context, fileID string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM file_versions WHERE file_id=$1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("delete versions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertMetadata attaches a derived metadata entry to a resource.
func (db *DB) InsertMetadata(ctx context.Context, m *model.Metadata) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO metadata (id, resource_id, content, creator, created) VALUES ($1,$2,$3,$4,$5)
	`, m.ID, m.ResourceID, m.Content, m.Creator, m.Created)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

// DeleteMetadata removes every metadata entry referencing a resource.
func (db *DB) DeleteMetadata(ctx context.Context, resourceID string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM metadata WHERE resource_id=$1`, resourceID)
	if err != nil {
		return 0, fmt.Errorf("delete metadata: %w", err)
	}
	return tag.RowsAffected(), nil
}
