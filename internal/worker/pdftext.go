package worker

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	pdfutil "github.com/dharsanguruparan/datavault/internal/pdf"
	"github.com/dharsanguruparan/datavault/internal/queue"
)

// PDFTextListener is the name of the built-in text extraction listener.
const PDFTextListener = "pdf-text"

// ObjectReader opens one object version.
type ObjectReader interface {
	Get(ctx context.Context, key, versionID string) (io.ReadCloser, error)
}

// DocumentUpdater merges fields into an index document.
type DocumentUpdater interface {
	Update(ctx context.Context, index, id string, partial any) error
}

// MetadataWriter stores derived metadata for a file.
type MetadataWriter interface {
	InsertMetadata(ctx context.Context, m *model.Metadata) error
}

// PDFText extracts the text of PDF files into the "content" field of the
// file's index document so feeds can match on it, and records a metadata
// entry describing the extraction.
func PDFText(log *zap.Logger, objects ObjectReader, index DocumentUpdater, meta MetadataWriter, indexName string) Listener {
	return func(ctx context.Context, job queue.JobMessage) error {
		if job.ContentType != "application/pdf" {
			log.Debug("not a pdf, skipping", zap.String("file", job.FileID), zap.String("content_type", job.ContentType))
			return nil
		}
		body, err := objects.Get(ctx, job.FileID, job.VersionID)
		if err != nil {
			return fmt.Errorf("open %s: %w", job.FileID, err)
		}
		defer body.Close()
		text, err := pdfutil.ExtractFromReader(body)
		if err != nil {
			return fmt.Errorf("extract %s: %w", job.FileID, err)
		}
		if err := storeText(ctx, index, meta, indexName, job, text); err != nil {
			return err
		}
		log.Info("pdf text indexed", zap.String("file", job.FileID), zap.Int("chars", len(text)))
		return nil
	}
}

func storeText(ctx context.Context, index DocumentUpdater, meta MetadataWriter, indexName string, job queue.JobMessage, text string) error {
	if err := index.Update(ctx, indexName, job.FileID, map[string]any{"content": text}); err != nil {
		return fmt.Errorf("index text of %s: %w", job.FileID, err)
	}
	err := meta.InsertMetadata(ctx, &model.Metadata{
		ResourceID: job.FileID,
		Creator:    PDFTextListener,
		Content: map[string]any{
			"listener":  PDFTextListener,
			"versionId": job.VersionID,
			"chars":     len(text),
		},
	})
	if err != nil {
		return fmt.Errorf("record metadata of %s: %w", job.FileID, err)
	}
	return nil
}
