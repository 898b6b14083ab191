package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format ist ein Exportformat für Berichte
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat liest ein Exportformat; leer bedeutet CSV
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported report format %q (csv, xlsx, json)", s)
	}
}

// Extension liefert die Dateiendung ohne Punkt
func (f Format) Extension() string {
	return string(f)
}

// ContentType liefert den MIME-Typ für HTTP-Antworten
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Die ersten vier Spalten sind in beiden Berichten fest
var (
	dailyHeader   = []string{"name", "check_in", "check_out", "duration", "date", "late"}
	monthlyHeader = []string{"name", "check_in", "check_out", "duration", "days_present", "working_days", "late_days", "attendance_rate"}
)

// FormatClock rendert eine lokale Uhrzeit oder einen leeren String
func FormatClock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04:05")
}

// FormatDuration rendert eine Dauer als HH:MM:SS, Stunden laufen über 24 hinaus
func FormatDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	total := int64(d.Round(time.Second) / time.Second)
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, total/3600, (total/60)%60, total%60)
}

// DailyTable liefert Kopfzeile und Zeilen des Tagesberichts
func DailyTable(r *DailyReport) ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		rows = append(rows, []string{
			row.Name,
			FormatClock(row.CheckIn),
			FormatClock(row.CheckOut),
			FormatDuration(row.Duration),
			row.Date,
			strconv.FormatBool(row.Late),
		})
	}
	return dailyHeader, rows
}

// MonthlyTable liefert Kopfzeile und Zeilen der Monatsübersicht
func MonthlyTable(r *MonthlyReport) ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		total := row.TotalDuration
		rows = append(rows, []string{
			row.Name,
			FormatClock(row.EarliestCheckIn),
			FormatClock(row.LatestCheckOut),
			FormatDuration(&total),
			strconv.Itoa(row.DaysPresent),
			strconv.Itoa(row.WorkingDays),
			strconv.Itoa(row.LateDays),
			strconv.FormatFloat(row.AttendanceRate, 'f', 2, 64),
		})
	}
	return monthlyHeader, rows
}

// WriteDaily schreibt den Tagesbericht im gewünschten Format
func WriteDaily(w io.Writer, r *DailyReport, f Format) error {
	header, rows := DailyTable(r)
	return write(w, f, "Daily", header, rows, r)
}

// WriteMonthly schreibt die Monatsübersicht im gewünschten Format
func WriteMonthly(w io.Writer, r *MonthlyReport, f Format) error {
	header, rows := MonthlyTable(r)
	return write(w, f, "Monthly "+r.Month, header, rows, r)
}

func write(w io.Writer, f Format, sheet string, header []string, rows [][]string, v interface{}) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, header, rows)
	case FormatXLSX:
		return writeXLSX(w, sheet, header, rows)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported report format %q", f)
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, sheet string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	all := append([][]string{header}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return f.Write(w)
}
