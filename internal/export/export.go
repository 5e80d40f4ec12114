// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export writes the composed report to disk in the requested formats.
// Markdown is written directly; PDF and DOCX are rendered by pandoc running in
// a local container runtime.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/container"
)

// Format names accepted by Publish.
const (
	FormatMarkdown = "markdown"
	FormatPDF      = "pdf"
	FormatDOCX     = "docx"
)

// ErrNoRuntime is returned for container-backed formats when no docker or
// podman runtime was found.
var ErrNoRuntime = errors.New("no container runtime available")

// Exporter renders one file format.
type Exporter interface {
	// Export writes report into dir using name as the file stem and returns
	// the path of the written file.
	Export(ctx context.Context, report, dir, name string) (string, error)
}

// Result is the outcome of one exporter.
type Result struct {
	Format string `json:"format"`
	Path   string `json:"path,omitempty"`
	Err    error  `json:"-"`
}

// Publisher runs the exporters for a set of requested formats.
type Publisher struct {
	// Runtime runs pandoc. Nil disables the pdf and docx formats.
	Runtime container.Runtime

	// Image is the pandoc image (default DefaultPandocImage).
	Image string

	Log *zap.Logger
}

// Exporter returns the exporter for format.
func (p *Publisher) Exporter(format string) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return MarkdownExporter{}, nil
	case FormatPDF, FormatDOCX:
		if p.Runtime == nil {
			return nil, ErrNoRuntime
		}
		return &PandocExporter{Runtime: p.Runtime, Image: p.Image, Format: format}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Publish runs one exporter per format. A failing format never prevents the
// others; every format gets a Result in the order requested.
func (p *Publisher) Publish(ctx context.Context, formats []string, report, dir, name string) []Result {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	results := make([]Result, 0, len(formats))
	for _, f := range formats {
		res := Result{Format: f}
		exp, err := p.Exporter(f)
		if err == nil {
			res.Path, err = exp.Export(ctx, report, dir, name)
		}
		if err != nil {
			res.Err = err
			log.Warn("export failed", zap.String("format", f), zap.Error(err))
		} else {
			log.Info("exported report", zap.String("format", f), zap.String("path", res.Path))
		}
		results = append(results, res)
	}
	return results
}

// MarkdownExporter writes the report as a .md file.
type MarkdownExporter struct{}

// Export implements Exporter.
func (MarkdownExporter) Export(_ context.Context, report, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

const maxNameLen = 60

// FileName derives a file stem from the task id and report title.
func FileName(taskID, title string) string {
	slug := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > maxNameLen {
		slug = strings.TrimRight(slug[:maxNameLen], "-")
	}
	if slug == "" {
		return "task_" + taskID
	}
	return "task_" + taskID + "_" + slug
}
