// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdiddy/research-desk/internal/container"
)

// DefaultPandocImage renders PDF through the LaTeX engine bundled in the image.
const DefaultPandocImage = "pandoc/latex:latest"

const containerWorkdir = "/data"

// PandocExporter renders the report with pandoc inside a container. The
// output directory is mounted at /data so pandoc can pick the output writer
// from the file extension.
type PandocExporter struct {
	Runtime container.Runtime
	Image   string
	Format  string
}

func (p *PandocExporter) image() string {
	if p.Image == "" {
		return DefaultPandocImage
	}
	return p.Image
}

// Export implements Exporter.
func (p *PandocExporter) Export(ctx context.Context, report, dir, name string) (string, error) {
	image := p.image()
	if err := container.EnsureImage(ctx, p.Runtime, image); err != nil {
		return "", fmt.Errorf("%s image not available in %s: %w", image, p.Runtime.Name(), err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	src := name + ".md"
	if err := os.WriteFile(filepath.Join(abs, src), []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("writing pandoc input: %w", err)
	}

	out := name + "." + p.Format
	spec := container.RunSpec{
		Image:   image,
		Args:    []string{src, "-o", out},
		Mounts:  []container.Mount{{Host: abs, Container: containerWorkdir}},
		Workdir: containerWorkdir,
		User:    hostUser(),
	}
	if err := p.Runtime.Run(ctx, spec); err != nil {
		return "", fmt.Errorf("rendering %s with pandoc: %w", p.Format, err)
	}

	path := filepath.Join(abs, out)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("pandoc produced no %s output: %w", p.Format, err)
	}
	return path, nil
}

// hostUser returns "uid:gid" for the current process, or "" where ids are
// not available.
func hostUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
}
