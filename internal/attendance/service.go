package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"ojtrack/internal/metrics"
	"ojtrack/internal/photostore"
)

// Repository persists one attendance record per user per calendar day.
type Repository interface {
	// FindByUserAndDate returns nil, nil when the user has no record for date.
	FindByUserAndDate(ctx context.Context, userID, date string) (*Record, error)
	// Insert fails with ErrConflict when (user_id, date) already exists.
	Insert(ctx context.Context, rec Record) (Record, error)
	// CheckOut applies patch only while the record is still checked in. It
	// fails with ErrNotFound when id is gone and ErrAlreadyCompleted when the
	// record was completed in the meantime.
	CheckOut(ctx context.Context, id string, patch CheckOutPatch) (Record, error)
	// FindByUserAndDateRange returns records with start <= date <= end, ascending by date.
	FindByUserAndDateRange(ctx context.Context, userID, start, end string) ([]Record, error)
}

// PhotoStore uploads evidence images.
type PhotoStore interface {
	// Upload stores data at path and returns its public URL. It must fail with
	// photostore.ErrPathExists instead of overwriting.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// URL returns the public URL an object at path has or would have.
	URL(path string) string
}

// Geocoder turns coordinates into a display address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Geocoder Geocoder
	Cache    ReportCache
	Logger   *zap.Logger
}

// Service runs the daily check-in/check-out state machine.
type Service struct {
	repo     Repository
	photos   PhotoStore
	clock    DayClock
	geocoder Geocoder
	cache    ReportCache
	log      *zap.Logger
}

// NewService creates a service backed by a repository and a photo store.
func NewService(repo Repository, photos PhotoStore, clock DayClock, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		photos:   photos,
		clock:    clock,
		geocoder: opts.Geocoder,
		cache:    opts.Cache,
		log:      log.Named("attendance"),
	}
}

// Clock returns the calendar policy the service uses.
func (s *Service) Clock() DayClock { return s.clock }

// RecordEvent decides whether evt is the user's check-in or check-out for the
// day it happened on and applies exactly that transition.
//
//	absent     --event--> checked_in
//	checked_in --event--> completed
//	completed  --event--> ErrAlreadyCompleted
//
// The photo is uploaded before any write. A write failure after a successful
// upload is returned as *WriteError so the caller can resubmit without retaking.
func (s *Service) RecordEvent(ctx context.Context, evt Event) (Outcome, error) {
	out, err := s.recordEvent(ctx, evt)
	if err != nil {
		metrics.Rejections.WithLabelValues(reason(err)).Inc()
		s.log.Warn("attendance event failed",
			zap.String("user_id", evt.UserID),
			zap.Time("occurred_at", evt.OccurredAt),
			zap.Error(err))
		return Outcome{}, err
	}
	metrics.Transitions.WithLabelValues(string(out.Type)).Inc()
	s.log.Info("attendance recorded",
		zap.String("user_id", out.Attendance.UserID),
		zap.String("date", out.Attendance.Date),
		zap.String("type", string(out.Type)),
		zap.String("record_id", out.Attendance.ID))
	return out, nil
}

func (s *Service) recordEvent(ctx context.Context, evt Event) (Outcome, error) {
	if err := evt.Validate(); err != nil {
		return Outcome{}, err
	}
	today := s.clock.Date(evt.OccurredAt)

	existing, err := s.repo.FindByUserAndDate(ctx, evt.UserID, today)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup attendance: %w", err)
	}

	switch {
	case existing == nil:
		return s.checkIn(ctx, evt, today)
	case existing.Completed():
		return Outcome{}, fmt.Errorf("%w: %s", ErrAlreadyCompleted, today)
	case existing.CheckedIn() && existing.CheckInTime.UnixMilli() == evt.OccurredAt.UnixMilli():
		// a resubmitted check-in whose first write landed despite the error
		return checkInOutcome(*existing), nil
	case existing.CheckedIn():
		return s.checkOut(ctx, evt, *existing)
	default:
		return Outcome{}, fmt.Errorf("attendance record %s has no check-in time", existing.ID)
	}
}

func (s *Service) checkIn(ctx context.Context, evt Event, today string) (Outcome, error) {
	addr, lat, lon := s.resolveLocation(ctx, evt.Location)

	url, err := s.upload(ctx, PhotoPath(KindCheckIn, evt.UserID, evt.OccurredAt), evt.Photo)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, &WriteError{PhotoURL: url, Err: err}
	}

	at := evt.OccurredAt
	saved, err := s.repo.Insert(ctx, Record{
		UserID:           evt.UserID,
		Date:             today,
		CheckInTime:      &at,
		CheckInPhotoURL:  &url,
		CheckInLocation:  addr,
		CheckInLatitude:  lat,
		CheckInLongitude: lon,
		Status:           StatusCheckedIn,
	})
	if errors.Is(err, ErrUnknownUser) {
		return Outcome{}, err
	}
	if err != nil {
		return Outcome{}, &WriteError{PhotoURL: url, Err: err}
	}

	return checkInOutcome(saved), nil
}

func checkInOutcome(rec Record) Outcome {
	return Outcome{
		Type:       TransitionCheckIn,
		Message:    "Checked in successfully",
		Time:       *rec.CheckInTime,
		Location:   derefStr(rec.CheckInLocation),
		Attendance: rec,
	}
}

func (s *Service) checkOut(ctx context.Context, evt Event, existing Record) (Outcome, error) {
	hours, err := HoursBetween(*existing.CheckInTime, evt.OccurredAt)
	if err != nil {
		return Outcome{}, err
	}
	addr, lat, lon := s.resolveLocation(ctx, evt.Location)

	url, err := s.upload(ctx, PhotoPath(KindCheckOut, evt.UserID, evt.OccurredAt), evt.Photo)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, &WriteError{PhotoURL: url, Err: err}
	}

	saved, err := s.repo.CheckOut(ctx, existing.ID, CheckOutPatch{
		Time:        evt.OccurredAt,
		PhotoURL:    url,
		Location:    addr,
		Latitude:    lat,
		Longitude:   lon,
		HoursLogged: hours,
	})
	if err != nil {
		return Outcome{}, &WriteError{PhotoURL: url, Err: err}
	}

	return Outcome{
		Type:        TransitionCheckOut,
		Message:     "Checked out successfully",
		Time:        evt.OccurredAt,
		HoursLogged: floatPtr(hours),
		Location:    derefStr(addr),
		Attendance:  saved,
	}, nil
}

// upload stores the photo. An existing object at path is the evidence of an
// earlier attempt of the same event whose write failed; it is reused.
func (s *Service) upload(ctx context.Context, path string, p Photo) (string, error) {
	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	start := time.Now()
	url, err := s.photos.Upload(ctx, path, p.Data, contentType)
	metrics.PhotoUploadSeconds.Observe(time.Since(start).Seconds())
	if errors.Is(err, photostore.ErrPathExists) {
		s.log.Info("reusing uploaded evidence", zap.String("path", path))
		return s.photos.URL(path), nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return url, nil
}

func (s *Service) resolveLocation(ctx context.Context, l *Location) (*string, *float64, *float64) {
	if l == nil {
		return nil, nil, nil
	}
	addr := l.Address
	if addr == "" && s.geocoder != nil {
		resolved, err := s.geocoder.Reverse(ctx, l.Latitude, l.Longitude)
		if err != nil {
			s.log.Warn("reverse geocoding failed", zap.Float64("lat", l.Latitude), zap.Float64("lon", l.Longitude), zap.Error(err))
		} else {
			addr = resolved
		}
	}
	return strPtr(addr), floatPtr(l.Latitude), floatPtr(l.Longitude)
}

// Today returns the user's record for the current day, or nil when absent.
func (s *Service) Today(ctx context.Context, userID string) (*Record, error) {
	return s.repo.FindByUserAndDate(ctx, userID, s.clock.Today())
}

// maxHistoryDays bounds History range queries.
const maxHistoryDays = 366

// History returns the user's records between from and to inclusive.
func (s *Service) History(ctx context.Context, userID, from, to string) ([]Record, error) {
	start, err := s.clock.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	end, err := s.clock.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	if end.Sub(start) > maxHistoryDays*24*time.Hour {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, maxHistoryDays)
	}
	return s.repo.FindByUserAndDateRange(ctx, userID, from, to)
}

// HoursBetween returns the elapsed hours from in to out rounded to 2 decimals.
func HoursBetween(in, out time.Time) (float64, error) {
	d := out.Sub(in)
	if d < 0 {
		return 0, fmt.Errorf("%w: check-in %s, check-out %s", ErrClockSkew,
			in.Format(time.RFC3339), out.Format(time.RFC3339))
	}
	return math.Round(d.Hours()*100) / 100, nil
}

// PhotoKind is the storage namespace of an evidence photo.
type PhotoKind string

const (
	KindCheckIn  PhotoKind = "checkins"
	KindCheckOut PhotoKind = "checkouts"
)

// PhotoPath names an evidence object: {checkins|checkouts}/{user_id}-{unix_ms}.jpg.
func PhotoPath(kind PhotoKind, userID string, at time.Time) string {
	return fmt.Sprintf("%s/%s-%d.jpg", kind, userID, at.UnixMilli())
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return "invalid"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrClockSkew):
		return "clock_skew"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrUpload):
		return "upload"
	default:
		return "storage"
	}
}
