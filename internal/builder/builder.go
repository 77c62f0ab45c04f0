// Package builder performs full site builds. Every build walks each configured
// collection from scratch and rewrites its output; there is no caching and no
// dependency tracking between documents.
package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/kiln/internal/config"
	"github.com/conneroisu/kiln/internal/errors"
	"github.com/conneroisu/kiln/internal/logging"
	"github.com/conneroisu/kiln/internal/renderer"
)

// Builder writes the rendered output tree for a site.
type Builder struct {
	site     config.SiteConfig
	renderer *renderer.Renderer
	logger   logging.Logger
}

// New creates a Builder for the given site configuration.
func New(site config.SiteConfig, logger logging.Logger) *Builder {
	return &Builder{
		site:     site,
		renderer: renderer.New(site.TemplateDir, site.Title),
		logger:   logger.WithComponent("builder"),
	}
}

// Build renders every document in every configured collection into the output
// tree. A collection directory that is missing or unreadable aborts the build;
// files already written in this pass stay on disk. Output paths are
// output/<collection>/<stem>.html.
func (b *Builder) Build(ctx context.Context) error {
	for _, collection := range b.site.Collections {
		if err := b.buildCollection(ctx, collection); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) buildCollection(ctx context.Context, collection string) error {
	contentDir := filepath.Join(b.site.ContentDir, collection)
	outputDir := filepath.Join(b.site.OutputDir, collection)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.NewIOError("output_mkdir", "creating output directory", err).
			WithComponent("builder").WithFile(outputDir)
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return errors.NewBuildError("content_read", "reading content directory", err).
			WithComponent("builder").WithFile(contentDir)
	}

	for _, entry := range entries {
		sourcePath := filepath.Join(contentDir, entry.Name())

		// Stat follows symlinks, so a link to a document builds like the
		// document itself. Collections are flat: subdirectories are not
		// descended into, and dangling links are skipped.
		info, err := os.Stat(sourcePath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		source, err := os.ReadFile(sourcePath)
		if err != nil {
			return errors.NewBuildError("document_read", "reading source document", err).
				WithComponent("builder").WithFile(sourcePath)
		}

		page, err := b.renderer.RenderDocument(string(source), collection)
		if err != nil {
			return err
		}

		outputPath := filepath.Join(outputDir, stem(entry.Name())+".html")
		if err := os.WriteFile(outputPath, []byte(page), 0o644); err != nil {
			return errors.NewIOError("output_write", "writing rendered page", err).
				WithComponent("builder").WithFile(outputPath)
		}

		b.logger.Debug(ctx, "rendered document",
			"source", sourcePath,
			"output", outputPath,
		)
	}

	return nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
