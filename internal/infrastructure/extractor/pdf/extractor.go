package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// Extractor pulls plain text out of PDF files, one segment per page so
// page numbers survive into citations.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract.pdf",
			fmt.Errorf("parse pdf %s: %w", doc.Filename, err))
	}

	segments := make([]domain.Chunk, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with broken font tables are skipped rather than
			// failing the whole document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pageNum := i
		segments = append(segments, domain.Chunk{
			Text:   text,
			Source: doc.Filename,
			Page:   &pageNum,
		})
	}
	if len(segments) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract.pdf",
			errors.New("no extractable text in "+doc.Filename))
	}
	return segments, nil
}
