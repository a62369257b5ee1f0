package ingest

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/search"
)

// Update writes a new version of an existing file. The object is written
// under the same key, the record takes the new version, name, editor and
// timestamp, a version record is appended and the index document is updated
// in place. Quota is only charged when Config.QuotaOnUpdate is set.
func (c *Coordinator) Update(ctx context.Context, fileID string, desc FileDescriptor, r io.Reader, actor model.Actor) (_ *model.File, err error) {
	defer func() { operationsTotal.WithLabelValues("update", result(err)).Inc() }()

	if err := c.probe(ctx); err != nil {
		return nil, err
	}
	previous, err := c.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if previous.Provisional() {
		return nil, ErrNotFound.New("file %s has no committed version", fileID)
	}
	log := c.log.With(zap.String("file", fileID), zap.String("user", actor.Email))
	tx := &saga{log: log}

	wctx, cancel := c.detach(ctx)
	defer cancel()

	name := desc.Name
	if name == "" {
		name = previous.Name
	}
	contentType := contentTypeFor(name, desc.ContentType)
	versionID, size, err := c.deps.Objects.Put(ctx, fileID, r, contentType)
	if err != nil {
		return nil, Error.New("write object: %v", err)
	}
	tx.push("remove object version", func(ctx context.Context) error {
		return c.deps.Objects.Remove(ctx, fileID, versionID)
	}, zap.String("key", fileID), zap.String("version_id", versionID))

	if c.cfg.QuotaOnUpdate {
		if _, err := c.deps.Ledger.Reserve(wctx, actor.Email, size); err != nil {
			return nil, tx.rollback(wctx, err)
		}
		tx.push("release quota", func(ctx context.Context) error {
			_, err := c.deps.Ledger.Release(ctx, actor.Email, size)
			return err
		}, zap.String("user", actor.Email), zap.Int64("bytes", size))
	}

	updated := *previous
	updated.Name = name
	updated.Creator = actor.Email
	updated.Created = c.now()
	updated.Bytes = size
	updated.ContentType = contentType
	updated.VersionID = versionID
	updated.VersionNum = previous.VersionNum + 1
	if err := c.deps.Metadata.ReplaceFile(wctx, &updated); err != nil {
		return nil, tx.rollback(wctx, Error.New("replace record: %v", err))
	}
	tx.push("restore previous record", func(ctx context.Context) error {
		return c.deps.Metadata.ReplaceFile(ctx, previous)
	}, zap.String("file", fileID))

	version := &model.FileVersion{
		VersionID:   versionID,
		VersionNum:  updated.VersionNum,
		FileID:      fileID,
		Creator:     actor.Email,
		Bytes:       size,
		ContentType: contentType,
		Created:     updated.Created,
	}
	if err := c.deps.Metadata.InsertVersion(wctx, version); err != nil {
		return nil, tx.rollback(wctx, Error.New("insert version: %v", err))
	}

	if err := c.deps.Index.Update(wctx, c.cfg.Index, fileID, search.FileUpdate(&updated)); err != nil {
		log.Warn("update file document", zap.Error(err))
	}
	log.Info("file updated",
		zap.String("version_id", versionID),
		zap.Int("version_num", updated.VersionNum),
		zap.Int64("bytes", size))
	return &updated, nil
}
