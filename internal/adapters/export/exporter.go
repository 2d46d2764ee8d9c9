// Package export materializes analysed datasets into artifact storage as CSV
// or JSON documents and records an audit trail of export activity.
package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"lhecore/internal/blob"
	"lhecore/internal/logging"
	"lhecore/pkg/domain"
)

// Format identifies a dataset rendering.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ExportStatus describes the lifecycle stage of an export.
type ExportStatus string

const (
	ExportStatusStarted   ExportStatus = "started"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// Artifact captures a stored dataset rendering.
type Artifact struct {
	ID          string    `json:"id"`
	Format      Format    `json:"format"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string       `json:"id"`
	Action     string       `json:"action"`
	Status     ExportStatus `json:"status"`
	Formats    []Format     `json:"formats,omitempty"`
	Rows       int          `json:"rows"`
	Error      string       `json:"error,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Exporter renders datasets and stores the results as immutable artifacts.
type Exporter struct {
	store  blob.Store
	audit  AuditLogger
	logger *slog.Logger
}

// NewExporter constructs an exporter writing into store. The audit logger may
// be nil.
func NewExporter(store blob.Store, audit AuditLogger, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Exporter{store: store, audit: audit, logger: logger}
}

// Export renders ds into the requested formats (both when none are given) and
// stores each rendering. Duplicate formats are dropped keeping first
// appearance order. On any failure no further formats are attempted.
func (e *Exporter) Export(ctx context.Context, ds domain.Dataset, formats ...Format) ([]Artifact, error) {
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to export malformed dataset: %w", err)
	}
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if format != FormatCSV && format != FormatJSON {
			return nil, fmt.Errorf("unsupported export format %q", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	exportID := newID()
	e.record(ctx, AuditEntry{ID: newID(), Action: "dataset_export", Status: ExportStatusStarted, Formats: uniq, Rows: ds.Rows(), OccurredAt: time.Now().UTC()})

	artifacts := make([]Artifact, 0, len(uniq))
	for _, format := range uniq {
		artifact, err := e.materialize(ctx, exportID, format, ds)
		if err != nil {
			e.record(ctx, AuditEntry{ID: newID(), Action: "dataset_export", Status: ExportStatusFailed, Formats: uniq, Rows: ds.Rows(), Error: err.Error(), OccurredAt: time.Now().UTC()})
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	e.record(ctx, AuditEntry{ID: newID(), Action: "dataset_export", Status: ExportStatusSucceeded, Formats: uniq, Rows: ds.Rows(), OccurredAt: time.Now().UTC()})
	e.logger.Info("dataset exported", "export_id", exportID, "rows", ds.Rows(), "formats", len(uniq))
	return artifacts, nil
}

func (e *Exporter) record(ctx context.Context, entry AuditEntry) {
	if e.audit != nil {
		e.audit.Record(ctx, entry)
	}
}

func (e *Exporter) materialize(ctx context.Context, exportID string, format Format, ds domain.Dataset) (Artifact, error) {
	var payload []byte
	var contentType string
	var err error
	switch format {
	case FormatJSON:
		payload, err = renderJSON(ds)
		contentType = "application/json"
	case FormatCSV:
		payload, err = renderCSV(ds)
		contentType = "text/csv"
	}
	if err != nil {
		return Artifact{}, err
	}

	key := fmt.Sprintf("exports/%s/dataset.%s", exportID, format)
	info, err := e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"rows": strconv.Itoa(ds.Rows())},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s artifact: %w", format, err)
	}
	return Artifact{
		ID:          newID(),
		Format:      format,
		Key:         key,
		ContentType: contentType,
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		URL:         info.URL,
		CreatedAt:   info.LastModified,
	}, nil
}

// jsonDocument is the wire shape of a JSON export. Missing cells are encoded
// as null since JSON has no NaN literal.
type jsonDocument struct {
	Columns      []string              `json:"columns"`
	Rows         int                   `json:"rows"`
	Observations map[string][]*float64 `json:"observations"`
	Weights      [][]float64           `json:"weights"`
}

func renderJSON(ds domain.Dataset) ([]byte, error) {
	doc := jsonDocument{
		Columns:      ds.Names,
		Rows:         ds.Rows(),
		Observations: make(map[string][]*float64, len(ds.Observations)),
		Weights:      ds.Weights,
	}
	if doc.Weights == nil {
		doc.Weights = [][]float64{}
	}
	for name, col := range ds.Observations {
		cells := make([]*float64, len(col))
		for i := range col {
			if !math.IsNaN(col[i]) {
				v := col[i]
				cells[i] = &v
			}
		}
		doc.Observations[name] = cells
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return payload, nil
}

func renderCSV(ds domain.Dataset) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	width := ds.WeightVariations()
	headers := make([]string, 0, len(ds.Names)+width)
	headers = append(headers, ds.Names...)
	for i := 0; i < width; i++ {
		headers = append(headers, fmt.Sprintf("weight_%d", i))
	}
	if err := writer.Write(headers); err != nil {
		return nil, err
	}

	for row := 0; row < ds.Rows(); row++ {
		record := make([]string, 0, len(headers))
		for _, name := range ds.Names {
			record = append(record, formatCell(ds.Observations[name][row]))
		}
		for i := 0; i < width; i++ {
			record = append(record, formatCell(ds.Weights[row][i]))
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatCell renders a value for CSV; missing cells become empty fields.
func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}

// MemoryAuditLog captures audit entries in memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record implements AuditLogger.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
