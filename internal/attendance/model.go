package attendance

import (
	"fmt"
	"strings"
	"time"
)

// Status is the stored lifecycle state of a daily record.
type Status string

const (
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	// StatusNotCheckedIn is reported when no record exists for the day. It is never stored.
	StatusNotCheckedIn Status = "not_checked_in"
)

// TransitionType tells the caller what a recorded event turned out to be.
type TransitionType string

const (
	TransitionCheckIn  TransitionType = "check_in"
	TransitionCheckOut TransitionType = "check_out"
)

// Record is the single attendance row for one user on one calendar day.
type Record struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Date              string     `json:"date"`
	CheckInTime       *time.Time `json:"check_in_time"`
	CheckOutTime      *time.Time `json:"check_out_time"`
	CheckInPhotoURL   *string    `json:"check_in_photo_url"`
	CheckOutPhotoURL  *string    `json:"check_out_photo_url"`
	CheckInLocation   *string    `json:"check_in_location"`
	CheckOutLocation  *string    `json:"check_out_location"`
	CheckInLatitude   *float64   `json:"check_in_latitude"`
	CheckInLongitude  *float64   `json:"check_in_longitude"`
	CheckOutLatitude  *float64   `json:"check_out_latitude"`
	CheckOutLongitude *float64   `json:"check_out_longitude"`
	HoursLogged       *float64   `json:"hours_logged"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Completed reports whether both check-in and check-out are set.
func (r Record) Completed() bool {
	return r.CheckInTime != nil && r.CheckOutTime != nil
}

// CheckedIn reports whether the record is waiting for a check-out.
func (r Record) CheckedIn() bool {
	return r.CheckInTime != nil && r.CheckOutTime == nil
}

// CheckOutPatch holds the fields written by the check-out transition.
type CheckOutPatch struct {
	Time        time.Time
	PhotoURL    string
	Location    *string
	Latitude    *float64
	Longitude   *float64
	HoursLogged float64
}

// Photo is the captured image submitted with an event.
type Photo struct {
	Data        []byte
	ContentType string
}

// Location is the optional geolocation attached to an event. Address is an
// opaque display string and is never parsed.
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// Event is one check-in or check-out capture submitted by a student.
type Event struct {
	UserID     string
	Photo      Photo
	Location   *Location
	OccurredAt time.Time
}

// Validate checks the required fields.
func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(e.Photo.Data) == 0 {
		missing = append(missing, "photo")
	}
	if e.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	if l := e.Location; l != nil {
		if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidEvent)
		}
	}
	return nil
}

// Outcome is the result of a successful RecordEvent call.
type Outcome struct {
	Type        TransitionType `json:"type"`
	Message     string         `json:"message"`
	Time        time.Time      `json:"time"`
	HoursLogged *float64       `json:"hours_logged,omitempty"`
	Location    string         `json:"location"`
	Attendance  Record         `json:"attendance"`
}

// Transition is published after every successful state change.
type Transition struct {
	RecordID string         `json:"record_id"`
	UserID   string         `json:"user_id"`
	Date     string         `json:"date"`
	Type     TransitionType `json:"type"`
	At       time.Time      `json:"at"`
}

// TransitionOf builds the transition notice for an outcome.
func TransitionOf(o Outcome) Transition {
	return Transition{
		RecordID: o.Attendance.ID,
		UserID:   o.Attendance.UserID,
		Date:     o.Attendance.Date,
		Type:     o.Type,
		At:       o.Time,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func floatPtr(f float64) *float64 { return &f }

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
