// Package report renders assignment exports as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Shivika2934/labquestion/internal/pool"
)

const (
	assignmentsSheet = "Assignments"
	poolsSheet       = "Pools"
	timeLayout       = "2006-01-02 15:04:05"
)

var assignmentHeader = []any{
	"Assignment ID", "Student", "Topic", "Category", "Difficulty",
	"Variation", "Question", "Expected Answer", "Assigned At", "Completed", "Completed At",
}

var poolHeader = []any{"Topic", "Total", "Available", "Consumed"}

// WriteAssignments writes a workbook with one row per assignment and, when
// pools is non-empty, a second sheet of per-topic pool counts. topicNames
// maps topic ids to display names for that sheet.
func WriteAssignments(w io.Writer, rows []pool.AssignmentDetail, pools []pool.PoolStats, topicNames map[string]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", assignmentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeSheet(f, assignmentsSheet, header, assignmentHeader, len(rows), func(i int) []any {
		return assignmentRow(rows[i])
	}); err != nil {
		return err
	}
	for col, width := range map[string]float64{"A": 38, "B": 18, "C": 24, "G": 60, "H": 40, "I": 20, "K": 20} {
		if err := f.SetColWidth(assignmentsSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if len(pools) > 0 {
		if _, err := f.NewSheet(poolsSheet); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
		if err := writeSheet(f, poolsSheet, header, poolHeader, len(pools), func(i int) []any {
			st := pools[i]
			name := topicNames[st.TopicID]
			if name == "" {
				name = st.TopicID
			}
			return []any{name, st.Total, st.Available, st.Consumed}
		}); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, header []any, n int, row func(i int) []any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze %s header: %w", sheet, err)
	}

	for i := range n {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(i)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func assignmentRow(d pool.AssignmentDetail) []any {
	completed := "No"
	completedAt := ""
	if d.Completed {
		completed = "Yes"
	}
	if d.CompletedAt != nil {
		completedAt = formatTime(*d.CompletedAt)
	}
	return []any{
		d.ID,
		d.Username,
		d.TopicName,
		d.Category,
		string(d.Difficulty),
		d.Variation,
		d.QuestionText,
		d.Answer,
		formatTime(d.AssignedAt),
		completed,
		completedAt,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
