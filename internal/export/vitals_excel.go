// Package export renders a patient's vitals history as an Excel workbook and
// reads readings back from one.
package export

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CJButlers/RXhale/internal/classifier"
	"github.com/CJButlers/RXhale/internal/models"

	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	PatientSheet = "Patient"
	VitalsSheet  = "Vitals"
)

// VitalsHeader is the header row of the vitals sheet.
var VitalsHeader = []string{
	"Timestamp",
	"SpO2 (%)",
	"BPM",
	"Device Status",
	"Classification",
}

// GenerateVitalsWorkbook renders rec's full vitals history, oldest first.
func GenerateVitalsWorkbook(rec *models.PatientRecord, now time.Time) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, so Close is called explicitly below.

	if err := f.SetSheetName("Sheet1", PatientSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	index, err := f.NewSheet(VitalsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	criticalStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#C00000"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create critical style: %w", err)
	}

	if err := writePatientSheet(f, rec, now, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	for col, header := range VitalsHeader {
		if err := setCell(f, VitalsSheet, col+1, 1, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.SetCellStyle(VitalsSheet, "A1", "E1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for col, width := range []float64{24, 10, 8, 15, 15} {
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(VitalsSheet, name, name, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	vitals := make([]models.VitalsReading, len(rec.Vitals))
	copy(vitals, rec.Vitals)
	sort.SliceStable(vitals, func(i, j int) bool { return vitals[i].Timestamp.Before(vitals[j].Timestamp) })

	for i, r := range vitals {
		row := i + 2
		status := ""
		if r.Status != nil {
			status = string(*r.Status)
		}
		class := classifier.Classify(r)
		values := []interface{}{r.Timestamp.UTC().Format(time.RFC3339Nano), r.SpO2, r.BPM, status, string(class)}
		for col, v := range values {
			if err := setCell(f, VitalsSheet, col+1, row, v); err != nil {
				f.Close()
				return nil, err
			}
		}
		if class == models.StatusCritical {
			cell, _ := excelize.CoordinatesToCellName(5, row)
			if err := f.SetCellStyle(VitalsSheet, cell, cell, criticalStyle); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set critical style: %w", err)
			}
		}
	}

	if err := f.SetPanes(VitalsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writePatientSheet(f *excelize.File, rec *models.PatientRecord, now time.Time, headerStyle int) error {
	age := ""
	if a, ok := rec.Age(now); ok {
		age = strconv.Itoa(a)
	}
	rows := [][2]string{
		{"Patient ID", rec.ID},
		{"First Name", rec.FirstName},
		{"Last Name", rec.LastName},
		{"PHN", rec.PHN},
		{"Date of Birth", rec.DateOfBirth},
		{"Age", age},
		{"Sex", string(rec.Sex)},
		{"Status", string(classifier.ClassifyPatient(rec.Vitals))},
		{"Readings", strconv.Itoa(len(rec.Vitals))},
		{"Exported At", now.UTC().Format(time.RFC3339)},
	}
	for i, kv := range rows {
		if err := setCell(f, PatientSheet, 1, i+1, kv[0]); err != nil {
			return err
		}
		if err := setCell(f, PatientSheet, 2, i+1, kv[1]); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(PatientSheet, "A1", fmt.Sprintf("A%d", len(rows)), headerStyle); err != nil {
		return fmt.Errorf("failed to set label style: %w", err)
	}
	if err := f.SetColWidth(PatientSheet, "A", "B", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}

// ParseVitalsWorkbook reads readings from the vitals sheet of a workbook in
// the layout GenerateVitalsWorkbook writes. Blank rows are skipped; the
// Classification column is ignored. Rows are validated, and the first bad
// row fails the whole parse with its row number.
func ParseVitalsWorkbook(data []byte) ([]models.VitalsReading, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(VitalsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s sheet: %w", VitalsSheet, err)
	}
	if len(rows) == 0 {
		return []models.VitalsReading{}, nil
	}

	out := make([]models.VitalsReading, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if isBlank(row) {
			continue
		}
		r, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRow(row []string) (models.VitalsReading, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var p models.ReadingPayload
	if ts := cell(0); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return models.VitalsReading{}, fmt.Errorf("%w: timestamp %q", models.ErrInvalidReading, ts)
		}
		p.Timestamp = &t
	}
	if v := cell(1); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.VitalsReading{}, fmt.Errorf("%w: spO2 %q", models.ErrInvalidReading, v)
		}
		p.SpO2 = &n
	}
	if v := cell(2); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.VitalsReading{}, fmt.Errorf("%w: bpm %q", models.ErrInvalidReading, v)
		}
		p.BPM = &n
	}
	p.Status = cell(3)

	// a row without a timestamp keeps the zero value and is stamped on submit
	return p.ToReading(time.Time{})
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
