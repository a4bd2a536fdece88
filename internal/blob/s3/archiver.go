package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver implements domain.PositionArchiver by exporting closed positions
// and their close-attempt audit trail to JSONL files in object storage.
//
// Deleting the archived rows from the primary store is intentionally not
// done here; the archive must be verified first.
type Archiver struct {
	writer BlobWriter
	store  domain.PositionStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver reading from store and writing via writer.
func NewArchiver(writer BlobWriter, store domain.PositionStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedPosition is the JSONL record: the position together with its full
// attempt history, so one line tells the whole story of a trade.
type archivedPosition struct {
	Position      domain.Position      `json:"position"`
	CloseAttempts []domain.CloseAttempt `json:"close_attempts,omitempty"`
}

// ArchiveClosedPositions uploads every position closed strictly before the
// cutoff to archive/positions/YYYY-MM.jsonl and returns how many were
// written.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.store.GetClosedPositions(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}

	var records []archivedPosition
	for _, p := range closed {
		if p.ClosedAt == nil || !p.ClosedAt.Before(before) {
			continue
		}
		attempts, err := a.store.GetCloseAttempts(ctx, p.ID, 0)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive attempts query %s: %w", p.ID, err)
		}
		records = append(records, archivedPosition{Position: p, CloseAttempts: attempts})
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(records))
	a.logger.Info("archived closed positions",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

var _ domain.PositionArchiver = (*Archiver)(nil)

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/positions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
