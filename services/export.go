package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"query-sphere/internal/logger"
	"query-sphere/models"

	"github.com/xuri/excelize/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HistoryExport is the downloadable record of one session's questions.
type HistoryExport struct {
	ExportInfo ExportInfo            `json:"export_info"`
	Document   *models.Document      `json:"document,omitempty"`
	Entries    []models.HistoryEntry `json:"entries"`
}

type ExportInfo struct {
	ExportDate   time.Time `json:"export_date"`
	SessionID    string    `json:"session_id"`
	TotalRecords int       `json:"total_records"`
	Answered     int       `json:"answered"`
	Failed       int       `json:"failed"`
	Format       string    `json:"format"`
}

func NewHistoryExport(sessionID, format string, doc *models.Document, entries []models.HistoryEntry) *HistoryExport {
	info := ExportInfo{
		ExportDate:   time.Now().UTC(),
		SessionID:    sessionID,
		TotalRecords: len(entries),
		Format:       format,
	}
	for _, e := range entries {
		if e.Answer != nil {
			info.Answered++
		} else {
			info.Failed++
		}
	}
	return &HistoryExport{ExportInfo: info, Document: doc, Entries: entries}
}

// ExportJSON renders the export as indented JSON.
func ExportJSON(data any) ([]byte, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return b, nil
}

// ExportExcel renders the history as a workbook with a History and a Summary sheet.
func ExportExcel(data *HistoryExport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Error closing Excel file", "error", err)
		}
	}()

	sheetName := "History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headers := []string{
		"Asked At", "Question", "Relevant Clause", "Explanation", "Source Reference",
		"Fallback", "Model", "Latency (ms)", "Error",
	}
	if err := writeRow(f, sheetName, 1, toCells(headers)); err != nil {
		return nil, err
	}

	for i, e := range data.Entries {
		row := []interface{}{e.AskedAt.Format("2006-01-02 15:04:05"), e.Question}
		if e.Answer != nil {
			row = append(row, e.Answer.RelevantClause, e.Answer.Explanation, e.Answer.SourceReference,
				e.Answer.Fallback, e.Answer.Model, e.Answer.LatencyMs, "")
		} else {
			row = append(row, "", "", "", false, "", 0, e.Error)
		}
		if err := writeRow(f, sheetName, i+2, row); err != nil {
			return nil, err
		}
	}

	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "E", 50)
	f.SetColWidth(sheetName, "F", "I", 15)

	summarySheetName := "Summary"
	if _, err := f.NewSheet(summarySheetName); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}

	summaryData := [][]interface{}{
		{"Export Information", ""},
		{"Export Date", data.ExportInfo.ExportDate.Format("2006-01-02 15:04:05")},
		{"Session ID", data.ExportInfo.SessionID},
		{"Total Records", data.ExportInfo.TotalRecords},
		{"Answered", data.ExportInfo.Answered},
		{"Failed", data.ExportInfo.Failed},
	}
	if data.Document != nil {
		summaryData = append(summaryData,
			[]interface{}{"", ""},
			[]interface{}{"Document", data.Document.Filename},
			[]interface{}{"Kind", string(data.Document.Kind)},
			[]interface{}{"Pages", data.Document.PageCount},
			[]interface{}{"Characters", data.Document.CharCount},
		)
	}
	for i, row := range summaryData {
		if err := writeRow(f, summarySheetName, i+1, row); err != nil {
			return nil, err
		}
	}
	f.SetColWidth(summarySheetName, "A", "B", 25)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s: %w", cell, err)
		}
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
