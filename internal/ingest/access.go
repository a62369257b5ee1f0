package ingest

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/access"
	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

// Versions returns a page of a file's versions, oldest first.
func (c *Coordinator) Versions(ctx context.Context, fileID string, offset, limit int) ([]model.FileVersion, error) {
	if _, err := c.getFile(ctx, fileID); err != nil {
		return nil, err
	}
	versions, err := c.deps.Metadata.ListVersions(ctx, fileID, offset, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return versions, nil
}

// Open streams the current version of a file and counts the download.
func (c *Coordinator) Open(ctx context.Context, fileID string) (io.ReadCloser, *model.File, error) {
	file, err := c.getFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.Provisional() {
		return nil, nil, ErrNotFound.New("file %s has no committed version", fileID)
	}
	body, err := c.deps.Objects.Get(ctx, fileID, file.VersionID)
	if err != nil {
		return nil, nil, Error.New("open object: %v", err)
	}
	if err := c.deps.Metadata.IncrementDownloads(ctx, fileID); err != nil {
		_ = body.Close()
		return nil, nil, Error.New("count download: %v", err)
	}
	file.Downloads++
	return body, file, nil
}

// Submit sends a file to a named listener on behalf of actor, subject to the
// listener's access policy.
func (c *Coordinator) Submit(ctx context.Context, fileID, listenerName string, params map[string]string, actor model.Actor) error {
	file, err := c.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	listener, err := c.deps.Listeners.GetListenerByName(ctx, listenerName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound.Wrap(err)
		}
		return Error.Wrap(err)
	}
	ok, err := c.deps.Access.Allow(ctx, listener, actor, file.DatasetID)
	if err != nil {
		return Error.Wrap(err)
	}
	if !ok {
		return access.ErrUnauthorized.New("%s may not use listener %s", actor.Email, listener.Name)
	}
	if err := c.deps.Dispatcher.Dispatch(ctx, file, listener.Name, params, actor.Email); err != nil {
		return err
	}
	c.log.Info("job submitted",
		zap.String("file", fileID),
		zap.String("listener", listener.Name),
		zap.String("user", actor.Email))
	return nil
}
