// Package artifact writes the files the terminal client hands to the user:
// printable summary pages and CSV exports.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stratsync-chat/internal/summary"
)

const printScript = `<script>window.addEventListener("load", function () { window.print(); });</script>`

// FileSink stores each summary in its own temporary HTML file. The page
// opens the browser's print dialog when loaded.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink writing into dir, or the system temp dir when
// dir is empty.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Acquire(key, html string) (summary.Resource, error) {
	f, err := os.CreateTemp(s.dir, "stratsync_summary_*.html")
	if err != nil {
		return nil, fmt.Errorf("artifact: create summary file: %w", err)
	}
	if _, err := f.WriteString(PrintablePage(key, html)); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("artifact: write summary file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("artifact: close summary file: %w", err)
	}
	return &tempFile{path: f.Name()}, nil
}

type tempFile struct {
	path string
}

func (t *tempFile) Location() string { return t.path }

func (t *tempFile) Release() error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact: remove %s: %w", t.path, err)
	}
	return nil
}

// PrintablePage wraps a summary fragment in a document that prints itself.
// Full documents only get the print script.
func PrintablePage(title, html string) string {
	lower := strings.ToLower(html)
	if i := strings.LastIndex(lower, "</body>"); i >= 0 {
		return html[:i] + printScript + html[i:]
	}
	if strings.Contains(lower, "<html") {
		return html + printScript
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(escapeText(title))
	b.WriteString("</title></head><body>\n")
	b.WriteString(html)
	b.WriteString("\n")
	b.WriteString(printScript)
	b.WriteString("</body></html>\n")
	return b.String()
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// WriteCSV saves content as dir/name and returns the path written.
func WriteCSV(dir, name, content string) (string, error) {
	if strings.ContainsAny(name, `/\`) || name == "" {
		return "", fmt.Errorf("artifact: invalid file name %q", name)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create export dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("artifact: write csv: %w", err)
	}
	return path, nil
}
