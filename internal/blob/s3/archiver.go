package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Archiver uploads the full evidence bundle of every decision to object
// storage, one JSON document per pipeline run. The primary audit trail lives
// in PostgreSQL; the archive exists for long-term retention and offline
// analysis.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver on top of the given BlobWriter.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveDecision serializes one decision and uploads it under
// decisions/<symbol>/<date>/<decision_key>.json.
func (a *Archiver) ArchiveDecision(ctx context.Context, d domain.Decision) error {
	buf, err := marshalCompact(d)
	if err != nil {
		return fmt.Errorf("s3blob: marshal decision %s: %w", d.DecisionKey, err)
	}

	path := decisionPath(d)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive decision %s: %w", d.DecisionKey, err)
	}
	return nil
}

// decisionPath builds the object key, partitioned by symbol and day so
// lifecycle rules and range listings stay cheap.
//
//	decisions/BTCUSDT/2025-06-01/BTCUSDT_default_1748779500.json
func decisionPath(d domain.Decision) string {
	key := strings.ReplaceAll(d.DecisionKey, ":", "_")
	return fmt.Sprintf("decisions/%s/%s/%s.json", d.Symbol, d.CreatedAt.UTC().Format("2006-01-02"), key)
}

// marshalCompact serializes without HTML escaping so evidence payloads stay
// readable in the bucket browser.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
