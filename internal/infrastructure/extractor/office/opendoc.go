package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// DocExtractor reads DOCX (word/document.xml) and ODT (content.xml)
// archives, joining paragraph text into a single segment.
type DocExtractor struct {
	storage ports.ObjectStorage
	entry   string
	capture string
	mode    string
}

func NewDOCXExtractor(storage ports.ObjectStorage) *DocExtractor {
	return &DocExtractor{storage: storage, entry: "word/document.xml", mode: "docx"}
}

func NewODTExtractor(storage ports.ObjectStorage) *DocExtractor {
	return &DocExtractor{storage: storage, entry: "content.xml", mode: "odt"}
}

func (e *DocExtractor) Extract(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract."+e.mode,
			fmt.Errorf("open archive %s: %w", doc.Filename, err))
	}

	content, err := readZipEntry(archive, e.entry)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract."+e.mode,
			fmt.Errorf("%s: %w", doc.Filename, err))
	}

	var text string
	if e.mode == "docx" {
		text, err = xmlText(content, map[string]bool{"t": true}, map[string]bool{"p": true})
	} else {
		text, err = xmlText(content, map[string]bool{"p": true, "h": true, "span": true}, map[string]bool{"p": true, "h": true})
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract."+e.mode,
			fmt.Errorf("parse %s: %w", doc.Filename, err))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return []domain.Chunk{{Text: text, Source: doc.Filename}}, nil
}

func readZipEntry(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.New("missing archive entry " + name)
}

// xmlText walks the XML token stream collecting character data that
// sits inside any of textElems, inserting a newline when an element in
// paraElems closes.
func xmlText(content []byte, textElems, paraElems map[string]bool) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	var (
		sb    strings.Builder
		depth int
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if textElems[t.Name.Local] {
				depth++
			}
		case xml.EndElement:
			if textElems[t.Name.Local] && depth > 0 {
				depth--
			}
			if paraElems[t.Name.Local] {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
