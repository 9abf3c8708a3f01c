package office

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// XLSXExtractor flattens spreadsheets one segment per sheet: cells are
// tab-joined, rows newline-joined.
type XLSXExtractor struct {
	storage ports.ObjectStorage
}

func NewXLSXExtractor(storage ports.ObjectStorage) *XLSXExtractor {
	return &XLSXExtractor{storage: storage}
}

func (e *XLSXExtractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	book, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract.xlsx",
			fmt.Errorf("parse workbook %s: %w", doc.Filename, err))
	}
	defer book.Close()

	var segments []domain.Chunk
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		segments = append(segments, domain.Chunk{
			Text:     strings.Join(lines, "\n"),
			Source:   doc.Filename,
			Metadata: map[string]any{"sheet": sheet},
		})
	}
	return segments, nil
}
