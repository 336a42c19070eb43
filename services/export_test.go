package services

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"query-sphere/models"

	"github.com/xuri/excelize/v2"
)

func sampleHistory() []models.HistoryEntry {
	asked := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []models.HistoryEntry{
		{
			Question: "What is the grace period?",
			AskedAt:  asked,
			Answer: &models.Answer{
				RelevantClause:  "thirty days",
				Explanation:     "The grace period is thirty days.",
				SourceReference: "PDF page 3",
				Model:           "llama3-8b-8192",
				LatencyMs:       850,
			},
		},
		{Question: "Is dental covered?", AskedAt: asked.Add(time.Minute), Error: "The language model did not respond in time."},
	}
}

func TestExportJSONHistory(t *testing.T) {
	doc := &models.Document{Filename: "policy.pdf", Kind: models.KindPDF, PageCount: 12}
	export := NewHistoryExport("session-1", "json", doc, sampleHistory())

	if export.ExportInfo.TotalRecords != 2 || export.ExportInfo.Answered != 1 || export.ExportInfo.Failed != 1 {
		t.Fatalf("unexpected export info %+v", export.ExportInfo)
	}

	data, err := ExportJSON(export)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := decoded["export_info"]; !ok {
		t.Fatalf("export_info missing")
	}
}

func TestExportExcelHistory(t *testing.T) {
	export := NewHistoryExport("session-1", "xlsx", &models.Document{Filename: "policy.pdf", Kind: models.KindPDF}, sampleHistory())

	data, err := ExportExcel(export)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "History" || sheets[1] != "Summary" {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	rows, err := f.GetRows("History")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[1][1] != "What is the grace period?" || rows[1][2] != "thirty days" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if last := rows[2][len(rows[2])-1]; last != "The language model did not respond in time." {
		t.Fatalf("error column missing, got %q", last)
	}
}
