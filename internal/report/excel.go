// Package report renders dashboard exports.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"ojtrack/internal/attendance"
)

// SheetName is the worksheet holding the attendance export.
const SheetName = "Attendance"

// Headers are the export columns in order.
var Headers = []string{
	"Date", "Student", "Email", "Student ID", "Company", "Supervisor",
	"Check In", "Check Out", "Hours", "Hours Display", "Status",
	"Check In Location", "Check Out Location",
}

// WriteAttendance writes rows as an xlsx workbook to w. Times are shown in loc.
func WriteAttendance(w io.Writer, rows []attendance.AdminRow, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := setRow(f, 1, toCells(Headers)); err != nil {
		return err
	}
	for i, r := range rows {
		var hours float64
		if r.HoursLogged != nil {
			hours = *r.HoursLogged
		}
		cells := []interface{}{
			r.Date,
			r.Student.Name,
			r.Student.Email,
			r.Student.StudentID,
			r.Student.Company,
			r.Student.Supervisor,
			clock(r.CheckInTime, loc),
			clock(r.CheckOutTime, loc),
			hours,
			attendance.FormatHours(hours),
			string(r.Status),
			deref(r.CheckInLocation),
			deref(r.CheckOutLocation),
		}
		if err := setRow(f, i+2, cells); err != nil {
			return err
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func toCells(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func clock(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("15:04")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
