package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Profile is the owner data the in-memory repository joins for admin rows.
type Profile struct {
	UserID  string
	Student StudentInfo
	Deleted bool
}

// MemoryRepository is a mutex-protected Repository and AdminRepository for dev and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	byID     map[string]Record
	byDay    map[string]string
	profiles map[string]Profile
	now      func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]Record),
		byDay:    make(map[string]string),
		profiles: make(map[string]Profile),
		now:      time.Now,
	}
}

func dayKey(userID, date string) string { return userID + "|" + date }

// PutProfile registers owner data for admin queries.
func (m *MemoryRepository) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// FindByUserAndDate returns a copy of the user's record for date, or nil.
func (m *MemoryRepository) FindByUserAndDate(_ context.Context, userID, date string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDay[dayKey(userID, date)]
	if !ok {
		return nil, nil
	}
	rec := m.byID[id]
	return &rec, nil
}

// Insert stores rec, enforcing one record per (user_id, date).
func (m *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(rec.UserID, rec.Date)
	if _, exists := m.byDay[key]; exists {
		return Record{}, fmt.Errorf("%w: user %s on %s", ErrConflict, rec.UserID, rec.Date)
	}
	// Without registered profiles the repository accepts any user.
	if _, known := m.profiles[rec.UserID]; len(m.profiles) > 0 && !known {
		return Record{}, fmt.Errorf("%w: user %s", ErrUnknownUser, rec.UserID)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusCheckedIn
	}
	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.byID[rec.ID] = rec
	m.byDay[key] = rec.ID
	return rec, nil
}

// CheckOut completes a checked-in record.
func (m *MemoryRepository) CheckOut(_ context.Context, id string, p CheckOutPatch) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if !rec.CheckedIn() {
		return Record{}, fmt.Errorf("%w: id %s", ErrAlreadyCompleted, id)
	}
	at, url, hours := p.Time, p.PhotoURL, p.HoursLogged
	rec.CheckOutTime = &at
	rec.CheckOutPhotoURL = &url
	rec.CheckOutLocation = p.Location
	rec.CheckOutLatitude = p.Latitude
	rec.CheckOutLongitude = p.Longitude
	rec.HoursLogged = &hours
	rec.Status = StatusCompleted
	rec.UpdatedAt = m.now().UTC()
	m.byID[id] = rec
	return rec, nil
}

// FindByUserAndDateRange returns records in [start, end] ascending by date.
func (m *MemoryRepository) FindByUserAndDateRange(_ context.Context, userID, start, end string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := []Record{}
	for _, rec := range m.byID {
		// ISO dates compare correctly as strings.
		if rec.UserID == userID && rec.Date >= start && rec.Date <= end {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date < res[j].Date })
	return res, nil
}

// Delete removes a record. The attendance service never calls it; tests use
// it to simulate a row disappearing between lookup and write.
func (m *MemoryRepository) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		delete(m.byDay, dayKey(rec.UserID, rec.Date))
		delete(m.byID, id)
	}
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// SearchIDs mirrors the Postgres search.
func (m *MemoryRepository) SearchIDs(_ context.Context, q SearchQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	want := q.Status.Stored()

	var matched []Record
	for _, rec := range m.byID {
		p, ok := m.profiles[rec.UserID]
		if !ok || p.Deleted || rec.UserID == q.CurrentUserID {
			continue
		}
		if want != "" && rec.Status != want {
			continue
		}
		if needle != "" && !profileMatches(p.Student, needle) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date > matched[j].Date
		}
		if !matched[i].CheckInTime.Equal(*matched[j].CheckInTime) {
			return matched[i].CheckInTime.After(*matched[j].CheckInTime)
		}
		return matched[i].ID < matched[j].ID
	})
	if q.Limit > 0 {
		matched = matched[min(q.Offset, len(matched)):min(q.Offset+q.Limit, len(matched))]
	}
	ids := make([]string, len(matched))
	for i, rec := range matched {
		ids[i] = rec.ID
	}
	return ids, nil
}

// ListByIDs loads admin rows for ids in order, skipping unknown ids.
func (m *MemoryRepository) ListByIDs(_ context.Context, ids []string) ([]AdminRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AdminRow, 0, len(ids))
	for _, id := range ids {
		rec, ok := m.byID[id]
		if !ok {
			continue
		}
		out = append(out, AdminRow{Record: rec, Student: m.profiles[rec.UserID].Student})
	}
	return out, nil
}

func profileMatches(s StudentInfo, needle string) bool {
	for _, field := range []string{s.Name, s.Email, s.StudentID, s.Company} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
