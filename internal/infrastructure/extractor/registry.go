package extractor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
	"github.com/wenda-project/wenda/internal/infrastructure/extractor/office"
	"github.com/wenda-project/wenda/internal/infrastructure/extractor/pdf"
	"github.com/wenda-project/wenda/internal/infrastructure/extractor/plaintext"
)

// Registry routes a document to a format extractor by file extension.
type Registry struct {
	byExt map[string]ports.TextExtractor
}

func NewRegistry(storage ports.ObjectStorage) *Registry {
	plain := plaintext.NewExtractor(storage)
	return &Registry{byExt: map[string]ports.TextExtractor{
		".txt":  plain,
		".md":   plain,
		".pdf":  pdf.NewExtractor(storage),
		".xlsx": office.NewXLSXExtractor(storage),
		".docx": office.NewDOCXExtractor(storage),
		".odt":  office.NewODTExtractor(storage),
	}}
}

// Supported reports whether the filename's extension has an extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extensions lists the supported extensions, for upload validation
// messages.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

func (r *Registry) Extract(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	ex, ok := r.byExt[ext]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract",
			errors.New("unsupported document type: "+ext))
	}
	return ex.Extract(ctx, doc)
}
