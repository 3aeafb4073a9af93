package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"rag-backend/models"
)

// ErrUnsupportedFileType is returned for extensions the extractor cannot read.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// SupportedExtensions lists the upload types Extract understands.
var SupportedExtensions = []string{".pdf", ".xlsx", ".txt", ".md", ".csv"}

// Extractor turns stored uploads into page-labelled text.
type Extractor struct {
	uploadDir string
}

func NewExtractor(uploadDir string) *Extractor {
	return &Extractor{uploadDir: uploadDir}
}

// Path returns where a document's file is stored.
func (e *Extractor) Path(documentID string) string {
	return filepath.Join(e.uploadDir, filepath.Base(documentID))
}

// Extract reads the stored file for a document. The document id is the
// stored file name, so its extension selects the format.
func (e *Extractor) Extract(documentID string) ([]models.Page, error) {
	content, err := os.ReadFile(e.Path(documentID))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(documentID), documentID)
}

// ExtractBytes extracts pages from content. ext includes the leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext, source string) ([]models.Page, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDFPages(content, source)
	case ".xlsx":
		return extractSheets(content, source)
	case ".json":
		return decodePageFile(content, source)
	case ".txt", ".md", ".csv":
		text := strings.ToValidUTF8(string(content), "�")
		return []models.Page{{Label: "1", Source: source, Text: text}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
}

// IsSupported reports whether ext can be extracted.
func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, s := range SupportedExtensions {
		if s == ext {
			return true
		}
	}
	return false
}

// decodePageFile reads a stored page list, as written for crawled sites.
// Pages keep their own source when they carry one.
func decodePageFile(content []byte, source string) ([]models.Page, error) {
	var pages []models.Page
	if err := json.Unmarshal(content, &pages); err != nil {
		return nil, fmt.Errorf("decode page file: %w", err)
	}
	for i := range pages {
		if pages[i].Source == "" {
			pages[i].Source = source
		}
		if pages[i].Label == "" {
			pages[i].Label = strconv.Itoa(i + 1)
		}
	}
	return pages, nil
}

func extractPDFPages(content []byte, source string) ([]models.Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := r.NumPage()
	pages := make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		label := strconv.Itoa(i)
		if page.V.IsNull() {
			pages = append(pages, models.Page{Label: label, Source: source})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Label: label, Source: source, Text: text})
	}
	return pages, nil
}

func extractSheets(content []byte, source string) ([]models.Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var pages []models.Page
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		pages = append(pages, models.Page{
			Label:  sheet,
			Source: source,
			Text:   strings.TrimSpace(buf.String()),
		})
	}
	return pages, nil
}
