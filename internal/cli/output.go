// Package cli formats answers, passages and index reports for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer with its sources.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	if ans.Failed() {
		fmt.Fprintf(w, "Could not answer (%s mode): %s\n", ans.Mode, ans.Reason)
		return nil
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(ans.Text))
	fmt.Fprintln(w, rule)
	if ans.Mode == models.ModeGeneral {
		fmt.Fprintln(w, "No matching passages in the library; answered from general knowledge.")
		return nil
	}
	fmt.Fprintln(w, "Sources:")
	for i, src := range ans.Sources {
		fmt.Fprintf(w, "  [%d] %s, page %d (score %.3f)\n", i+1, src.Title, src.Page, src.Score)
		if src.Preview != "" {
			fmt.Fprintf(w, "      %s\n", src.Preview)
		}
	}
	return nil
}

// WritePassages writes a retrieval result.
func WritePassages(w io.Writer, passages []models.Passage, format OutputFormat) error {
	if format == OutputJSON {
		if passages == nil {
			passages = []models.Passage{}
		}
		return writeJSON(w, passages)
	}
	if len(passages) == 0 {
		fmt.Fprintln(w, "No passages above the relevance threshold.")
		return nil
	}
	fmt.Fprintf(w, "\nFound %d passages\n\n", len(passages))
	for i, p := range passages {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%d] %s, page %d | Score: %.4f\n", i+1, p.Title, p.Page, p.Score)
		fmt.Fprintf(w, "ID: %s\n", p.ChunkID)
		fmt.Fprintf(w, "\n%s\n\n", search.Preview(p.Text, search.PreviewLength))
	}
	return nil
}

// WriteSyncReport writes the outcome of an ingestion run.
func WriteSyncReport(w io.Writer, r *models.SyncReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if r.Skipped {
		fmt.Fprintf(w, "Index is up to date (%d documents).\n", r.Unchanged)
		return nil
	}
	verb := "Synced"
	if r.Rebuilt {
		verb = "Rebuilt"
	}
	fmt.Fprintf(w, "%s index in %dms: %d added, %d updated, %d removed, %d unchanged, %d chunks embedded\n",
		verb, r.DurationMS, r.Added, r.Updated, r.Removed, r.Unchanged, r.Chunks)
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "Skipped %d unreadable document(s):\n", len(r.Failed))
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}

// WriteStatus writes index status.
func WriteStatus(w io.Writer, s *models.IndexStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "documents:          %d   # ingested documents\n", s.Documents)
	fmt.Fprintf(w, "records:            %d   # embedded chunks\n", s.Records)
	fmt.Fprintf(w, "snapshot_size:      %d   # chunks searchable now\n", s.SnapshotSize)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", s.DiskUsageBytes)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# index")
	fmt.Fprintf(w, "backend:            %s\n", s.Backend)
	fmt.Fprintf(w, "embedder:           %s\n", s.EmbedderModel)
	fmt.Fprintf(w, "dimensions:         %d\n", s.Dimensions)
	if s.Fingerprint != "" {
		fmt.Fprintf(w, "fingerprint:        %s\n", utils.Truncate(s.Fingerprint, 16))
	}
	return nil
}

// WriteDocuments writes the ingested documents, one per line.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%-40s %4d pages %5d chunks  %s\n", d.Title, d.PageCount, d.ChunkCount, d.Path)
	}
	fmt.Fprintf(w, "%d document(s)\n", len(docs))
	return nil
}
