package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"rag-backend/models"
)

const (
	ExportFormatJSON  = "json"
	ExportFormatExcel = "xlsx"
)

// ErrUnsupportedExportFormat is returned for formats other than json and xlsx.
var ErrUnsupportedExportFormat = errors.New("unsupported export format")

// ChatExport is the chat history of one document.
type ChatExport struct {
	DocumentID   string                `json:"document_id"`
	Filename     string                `json:"filename"`
	ExportedAt   time.Time             `json:"exported_at"`
	TotalRecords int                   `json:"total_records"`
	Summary      *models.DocumentStats `json:"summary,omitempty"`
	Chats        []models.ChatLog      `json:"chats"`
}

// ExportFile is a rendered export ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

var chatExportHeaders = []string{
	"Chat ID", "Created At", "Query", "Answer", "Sources", "Provider", "Model",
	"Temperature", "Embedding Model", "Web Search", "Custom Prompt", "Parent Chat ID",
}

// RenderChatExport encodes export in the requested format.
func RenderChatExport(export *ChatExport, format string) (*ExportFile, error) {
	base := "chat_export_" + strings.TrimSuffix(export.DocumentID, filepath.Ext(export.DocumentID))

	switch strings.ToLower(format) {
	case "", ExportFormatJSON:
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return &ExportFile{Filename: base + ".json", ContentType: "application/json", Data: data}, nil
	case ExportFormatExcel, "excel":
		data, err := renderChatWorkbook(export)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExportFormat, format)
	}
}

func renderChatWorkbook(export *ChatExport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Chats"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := writeRow(f, sheet, 1, toCells(chatExportHeaders)); err != nil {
		return nil, err
	}
	for i, chat := range export.Chats {
		row := []any{
			chat.ChatID,
			chat.CreatedAt.Format("2006-01-02 15:04:05"),
			chat.Query,
			chat.Answer,
			chat.Sources,
			chat.Provider,
			chat.Model,
			chat.Temperature,
			chat.EmbeddingModel,
			chat.WebSearchUsed,
			chat.CustomPrompt,
			chat.ParentChatID,
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 20)
	_ = f.SetColWidth(sheet, "C", "D", 60)
	_ = f.SetColWidth(sheet, "E", "L", 15)

	if export.Summary != nil {
		if err := writeSummarySheet(f, export); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummarySheet(f *excelize.File, export *ChatExport) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	s := export.Summary
	rows := [][]any{
		{"Document ID", export.DocumentID},
		{"Filename", export.Filename},
		{"Exported At", export.ExportedAt.Format(time.RFC3339)},
		{"Total Queries", s.TotalQueries},
		{"Average Sources Per Query", s.AverageSourcesPerQuery},
		{},
		{"Model", "Queries"},
	}
	for _, m := range s.ModelsUsed {
		rows = append(rows, []any{m.Model, m.Count})
	}
	rows = append(rows, []any{}, []any{"Embedding Model", "Queries"})
	for _, m := range s.EmbeddingModelsUsed {
		rows = append(rows, []any{m.Model, m.Count})
	}

	for i, row := range rows {
		if err := writeRow(f, sheet, i+1, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 28)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
