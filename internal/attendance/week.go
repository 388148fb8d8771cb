package attendance

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"ojtrack/internal/metrics"
)

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// NoEntry is shown for days without logged hours.
const NoEntry = "No entry"

// DayEntry is one row of the week report.
type DayEntry struct {
	DayName      string  `json:"day"`
	Date         string  `json:"date"`
	HoursLogged  float64 `json:"hours_logged"`
	HoursDisplay string  `json:"hours_display"`
	IsToday      bool    `json:"is_today"`
}

// WeekReport is the Monday..Sunday summary for the week containing Today.
type WeekReport struct {
	Today      string     `json:"today"`
	WeekStart  string     `json:"week_start"`
	WeekEnd    string     `json:"week_end"`
	Days       []DayEntry `json:"days"`
	TotalHours float64    `json:"total_hours"`
}

// WeekDates returns the seven dates, Monday first, of the week containing today.
func WeekDates(today string) ([7]string, error) {
	var dates [7]string
	t, err := time.Parse(DateLayout, today)
	if err != nil {
		return dates, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	d := int(t.Weekday())
	offset := 1 - d
	if d == 0 {
		offset = -6
	}
	monday := t.AddDate(0, 0, offset)
	for i := range dates {
		dates[i] = monday.AddDate(0, 0, i).Format(DateLayout)
	}
	return dates, nil
}

// FormatHours renders decimal hours as "<H>h <M>m", or NoEntry when h <= 0.
func FormatHours(h float64) string {
	if h <= 0 {
		return NoEntry
	}
	whole := math.Floor(h)
	minutes := math.Round((h - whole) * 60)
	if minutes >= 60 {
		whole++
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", int(whole), int(minutes))
}

// BuildWeekReport lays records onto the week containing today. Records
// outside the week are ignored; days without a record count as zero.
func BuildWeekReport(today string, records []Record) (WeekReport, error) {
	dates, err := WeekDates(today)
	if err != nil {
		return WeekReport{}, err
	}
	byDate := make(map[string]Record, len(records))
	for _, r := range records {
		byDate[r.Date] = r
	}

	report := WeekReport{
		Today:     today,
		WeekStart: dates[0],
		WeekEnd:   dates[6],
		Days:      make([]DayEntry, 0, len(dates)),
	}
	for i, date := range dates {
		var hours float64
		if r, ok := byDate[date]; ok && r.HoursLogged != nil {
			hours = *r.HoursLogged
		}
		if hours > 0 {
			report.TotalHours += hours
		}
		report.Days = append(report.Days, DayEntry{
			DayName:      weekdayNames[i],
			Date:         date,
			HoursLogged:  hours,
			HoursDisplay: FormatHours(hours),
			IsToday:      date == today,
		})
	}
	report.TotalHours = math.Round(report.TotalHours*100) / 100
	return report, nil
}

// WeekReport builds the report for the week containing today, reading
// through the report cache when one is configured.
func (s *Service) WeekReport(ctx context.Context, userID, today string) (WeekReport, error) {
	dates, err := WeekDates(today)
	if err != nil {
		return WeekReport{}, err
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID, today); ok {
			metrics.ReportCache.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.ReportCache.WithLabelValues("miss").Inc()
	}

	records, err := s.repo.FindByUserAndDateRange(ctx, userID, dates[0], dates[6])
	if err != nil {
		return WeekReport{}, fmt.Errorf("load week: %w", err)
	}
	report, err := BuildWeekReport(today, records)
	if err != nil {
		return WeekReport{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, today, report); err != nil {
			s.log.Warn("week report cache set failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return report, nil
}
