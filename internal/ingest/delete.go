package ingest

import (
	"context"
	"errors"
	"math"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

// Delete stages, in the order they run.
const (
	StageObjects  = "objects"
	StageIndex    = "index"
	StageLedger   = "ledger"
	StageRecord   = "record"
	StageVersions = "versions"
	StageMetadata = "metadata"
)

// StageResult is the outcome of one delete stage. Removed counts what the
// stage deleted; zero means it was already gone. Skipped stages did not run.
type StageResult struct {
	Stage   string
	Removed int64
	Skipped bool
	Err     error
}

// DeleteReport lists every stage of a delete.
type DeleteReport struct {
	FileID string
	Stages []StageResult
}

// Failed returns the stages that returned an error.
func (r *DeleteReport) Failed() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

func (r *DeleteReport) add(stage string, removed int64, err error) {
	r.Stages = append(r.Stages, StageResult{Stage: stage, Removed: removed, Err: err})
}

func (r *DeleteReport) skip(stage string) {
	r.Stages = append(r.Stages, StageResult{Stage: stage, Skipped: true})
}

// Delete removes every object version and the index document, gives the
// charged bytes back to the ledger, then removes the record, its version
// records and derived metadata. Stages that find nothing succeed, so a
// repeated delete is a no-op. A failing stage does not stop later ones; the
// returned error combines every failure and the report says which stage
// produced each.
//
// The record and version rows are what the ledger stage reads, so they are
// kept when the release fails and a later Delete releases them again.
func (c *Coordinator) Delete(ctx context.Context, fileID string) (_ *DeleteReport, err error) {
	defer func() { operationsTotal.WithLabelValues("delete", result(err)).Inc() }()

	if err := c.probe(ctx); err != nil {
		return nil, err
	}
	log := c.log.With(zap.String("file", fileID))
	report := &DeleteReport{FileID: fileID}

	wctx, cancel := c.detach(ctx)
	defer cancel()

	versions, loadErr := c.chargedVersions(wctx, fileID)

	removed, err := c.deps.Objects.RemoveAll(wctx, fileID)
	report.add(StageObjects, int64(removed), err)

	err = c.deps.Index.DeleteByID(wctx, c.cfg.Index, fileID)
	report.add(StageIndex, 0, err)

	ledgerErr := loadErr
	var released int64
	if ledgerErr == nil {
		released, ledgerErr = c.releaseCharged(wctx, versions)
	}
	report.add(StageLedger, released, ledgerErr)

	if ledgerErr != nil {
		report.skip(StageRecord)
		report.skip(StageVersions)
	} else {
		n, err := c.deps.Metadata.DeleteFile(wctx, fileID)
		report.add(StageRecord, n, err)

		n, err = c.deps.Metadata.DeleteVersions(wctx, fileID)
		report.add(StageVersions, n, err)
	}

	n, err := c.deps.Metadata.DeleteMetadata(wctx, fileID)
	report.add(StageMetadata, n, err)

	var group errs.Group
	for _, s := range report.Failed() {
		log.Error("delete stage failed", zap.String("stage", s.Stage), zap.Error(s.Err))
		group.Add(errs.New("%s: %v", s.Stage, s.Err))
	}
	if err := group.Err(); err != nil {
		return report, Error.Wrap(err)
	}
	log.Info("file deleted", zap.Int("object_versions", removed))
	return report, nil
}

// chargedVersions loads the version records of a file. A missing file has
// none.
func (c *Coordinator) chargedVersions(ctx context.Context, fileID string) ([]model.FileVersion, error) {
	if _, err := c.deps.Metadata.GetFile(ctx, fileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errs.New("load file: %v", err)
	}
	versions, err := c.deps.Metadata.ListVersions(ctx, fileID, 0, math.MaxInt32)
	if err != nil {
		return nil, errs.New("load versions: %v", err)
	}
	return versions, nil
}

// releaseCharged gives back the bytes Create and Update charged for versions,
// one release per user.
func (c *Coordinator) releaseCharged(ctx context.Context, versions []model.FileVersion) (int64, error) {
	var users []string
	charged := make(map[string]int64)
	for _, v := range versions {
		if v.VersionNum > 1 && !c.cfg.QuotaOnUpdate {
			continue
		}
		if _, ok := charged[v.Creator]; !ok {
			users = append(users, v.Creator)
		}
		charged[v.Creator] += v.Bytes
	}

	var (
		released int64
		group    errs.Group
	)
	for _, email := range users {
		if _, err := c.deps.Ledger.Release(ctx, email, charged[email]); err != nil {
			group.Add(err)
			continue
		}
		released += charged[email]
	}
	return released, group.Err()
}
