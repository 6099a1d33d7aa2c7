package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/coverbound/triggerd/internal/domain"
)

// SettlementArchiver persists settlement records as JSON objects in blob
// storage, one object per settled query instance:
//
//	settlements/<trigger-id>/<request-timestamp>.json
//
// The archive is write-once: a query instance settles exactly once, so keys
// never collide.
type SettlementArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewSettlementArchiver creates a SettlementArchiver using the given writer
// and reader.
func NewSettlementArchiver(writer domain.BlobWriter, reader domain.BlobReader) *SettlementArchiver {
	return &SettlementArchiver{writer: writer, reader: reader}
}

// Archive uploads the settlement record.
func (a *SettlementArchiver) Archive(ctx context.Context, rec domain.SettlementRecord) error {
	buf, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal settlement %s@%d: %w", rec.TriggerID, rec.RequestTimestamp, err)
	}

	path := settlementPath(rec.TriggerID, rec.RequestTimestamp)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s@%d: %w", rec.TriggerID, rec.RequestTimestamp, err)
	}
	return nil
}

// ListByTrigger returns every archived settlement record for the trigger,
// ordered by request timestamp.
func (a *SettlementArchiver) ListByTrigger(ctx context.Context, triggerID string) ([]domain.SettlementRecord, error) {
	prefix := fmt.Sprintf("settlements/%s/", triggerID)
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	recs := make([]domain.SettlementRecord, 0, len(infos))
	for _, info := range infos {
		body, err := a.reader.Get(ctx, info.Path)
		if err != nil {
			return nil, err
		}

		var rec domain.SettlementRecord
		decErr := json.NewDecoder(body).Decode(&rec)
		_ = body.Close()
		if decErr != nil {
			return nil, fmt.Errorf("s3blob: decode settlement %s: %w", info.Path, decErr)
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].RequestTimestamp < recs[j].RequestTimestamp
	})
	return recs, nil
}

// settlementPath builds the object key for one settled query instance.
func settlementPath(triggerID string, requestTimestamp int64) string {
	return fmt.Sprintf("settlements/%s/%d.json", triggerID, requestTimestamp)
}
