package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// in parts.
const multipartThreshold = 16 * 1024 * 1024

// TradeArchiveStore provides read access to trades for archival.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// SnapshotArchiveStore provides read access to portfolio snapshots for
// archival.
type SnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.PortfolioSnapshot, error)
}

// ObjectChecker reports whether an archive key is already taken.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver by serialising old records to JSONL
// and uploading them under archive/<kind>/. Records are not deleted from the
// primary store.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	checker   ObjectChecker
	trades    TradeArchiveStore
	snapshots SnapshotArchiveStore
	audit     domain.AuditStore
	now       func() time.Time
}

// NewArchiver creates a new ArchiveImpl. checker may be nil, in which case
// existing archive objects are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	checker ObjectChecker,
	trades TradeArchiveStore,
	snapshots SnapshotArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		checker:   checker,
		trades:    trades,
		snapshots: snapshots,
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveTrades uploads every trade executed before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the number of records written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archive(ctx, a, "trades", before, trades)
}

// ArchiveSnapshots uploads every portfolio snapshot taken before the cutoff
// to archive/snapshots/YYYY-MM.jsonl and returns the number of records
// written.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	return archive(ctx, a, "snapshots", before, snaps)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// freePath returns the monthly archive key for kind, suffixed with the
// current unix time when an earlier run already wrote that month.
func (a *ArchiveImpl) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before)
	if a.checker == nil {
		return path, nil
	}
	exists, err := a.checker.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s check: %w", kind, err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/%s/%s-%d.jsonl", kind, before.Format("2006-01"), a.now().Unix()), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-01.jsonl
//	archive/snapshots/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
