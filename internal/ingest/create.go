package ingest

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/search"
)

// Create ingests a new file for actor.
//
// Stages: provisional record, object write (key = file id), quota
// reservation, commit of the record and its first version, index document.
// A failure before the index write undoes the earlier stages; the object
// version removed is exactly the one the write returned. The index write is
// best effort. Once the record is committed the file is routed to matching
// listeners; routing outcomes are reported and never undo the ingestion.
func (c *Coordinator) Create(ctx context.Context, desc FileDescriptor, r io.Reader, actor model.Actor) (_ *model.File, _ *Report, err error) {
	defer func() { operationsTotal.WithLabelValues("create", result(err)).Inc() }()

	if err := c.probe(ctx); err != nil {
		return nil, nil, err
	}
	log := c.log.With(zap.String("user", actor.Email), zap.String("name", desc.Name))
	tx := &saga{log: log}

	file := &model.File{
		Name:        desc.Name,
		DatasetID:   desc.DatasetID,
		FolderID:    desc.FolderID,
		Creator:     actor.Email,
		Created:     c.now(),
		ContentType: contentTypeFor(desc.Name, desc.ContentType),
	}
	id, err := c.deps.Metadata.InsertFile(ctx, file)
	if err != nil {
		return nil, nil, Error.New("insert provisional record: %v", err)
	}
	log = log.With(zap.String("file", id))
	tx.log = log
	tx.push("delete provisional record", func(ctx context.Context) error {
		_, err := c.deps.Metadata.DeleteFile(ctx, id)
		return err
	}, zap.String("file", id))

	// Everything from here on finishes even if the caller cancels.
	wctx, cancel := c.detach(ctx)
	defer cancel()

	versionID, size, err := c.deps.Objects.Put(ctx, id, r, file.ContentType)
	if err != nil {
		return nil, nil, tx.rollback(wctx, Error.New("write object: %v", err))
	}
	tx.push("remove object version", func(ctx context.Context) error {
		return c.deps.Objects.Remove(ctx, id, versionID)
	}, zap.String("key", id), zap.String("version_id", versionID))

	total, err := c.deps.Ledger.Reserve(wctx, actor.Email, size)
	if err != nil {
		return nil, nil, tx.rollback(wctx, err)
	}
	tx.push("release quota", func(ctx context.Context) error {
		_, err := c.deps.Ledger.Release(ctx, actor.Email, size)
		return err
	}, zap.String("user", actor.Email), zap.Int64("bytes", size))

	file.VersionID = versionID
	file.VersionNum = 1
	file.Bytes = size
	if err := c.deps.Metadata.ReplaceFile(wctx, file); err != nil {
		return nil, nil, tx.rollback(wctx, Error.New("commit record: %v", err))
	}
	version := &model.FileVersion{
		VersionID:   versionID,
		VersionNum:  1,
		FileID:      id,
		Creator:     actor.Email,
		Bytes:       size,
		ContentType: file.ContentType,
		Created:     file.Created,
	}
	if err := c.deps.Metadata.InsertVersion(wctx, version); err != nil {
		return nil, nil, tx.rollback(wctx, Error.New("insert version: %v", err))
	}

	if err := c.deps.Index.Insert(wctx, c.cfg.Index, id, search.FileDocument(file)); err != nil {
		log.Warn("index file document", zap.Error(err))
	}
	log.Info("file ingested",
		zap.String("version_id", versionID),
		zap.Int64("bytes", size),
		zap.Int64("user_total_bytes", total))

	report := c.route(wctx, file, actor)
	return file, report, nil
}
