package backlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const previewSubjectDisplayLimit = 60

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "claimintake backlog: %d unread messages with attachments", rep.Total)
	if rep.Truncated {
		builder.WriteString(" (page limit reached, more pending)")
	}
	builder.WriteString("\n")
	if rep.Total == 0 {
		_, err := io.WriteString(w, builder.String())
		return err
	}

	fmt.Fprintf(&builder, "\nWaiting: %d under a day, %d under a week, %d older", rep.Ages.Day, rep.Ages.Week, rep.Ages.Older)
	if rep.Ages.Unknown > 0 {
		fmt.Fprintf(&builder, ", %d undated", rep.Ages.Unknown)
	}
	builder.WriteString("\n")
	if !rep.Oldest.IsZero() {
		fmt.Fprintf(&builder, "Oldest: %s\n", rep.Oldest.UTC().Format(time.RFC3339))
	}
	if rep.Delivered > 0 {
		fmt.Fprintf(&builder, "Already delivered but still unread: %d\n", rep.Delivered)
	}

	if len(rep.TopSenders) > 0 {
		builder.WriteString("\nTop senders:\n")
		for _, s := range rep.TopSenders {
			fmt.Fprintf(
				&builder,
				"  %-30s %4d %s\n",
				s.Domain,
				s.Count,
				truncate(s.PreviewSubject, previewSubjectDisplayLimit),
			)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to a path relative to the working directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	return EncodeJSON(rep, f)
}

// EncodeJSON writes the report as indented JSON.
func EncodeJSON(rep Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
