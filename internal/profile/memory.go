package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-protected Repository for dev and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	profiles map[string]Profile
	students map[string]Student
	now      func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]Profile),
		students: make(map[string]Student),
		now:      time.Now,
	}
}

// CreateProfile stores p.
func (m *MemoryRepository) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return Profile{}, fmt.Errorf("%w: id %s", ErrExists, p.ID)
	}
	p.CreatedAt = m.now().UTC()
	p.DeletedAt = nil
	m.profiles[p.ID] = p
	return p, nil
}

// CreateStudent stores s for an existing profile.
func (m *MemoryRepository) CreateStudent(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[s.UserID]; !ok {
		return Student{}, fmt.Errorf("%w: user %s", ErrNoProfile, s.UserID)
	}
	if _, ok := m.students[s.UserID]; ok {
		return Student{}, fmt.Errorf("%w: student profile of %s", ErrExists, s.UserID)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = m.now().UTC()
	m.students[s.UserID] = s
	return s, nil
}

// GetStudent returns the student profile of userID.
func (m *MemoryRepository) GetStudent(_ context.Context, userID string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[userID]
	if !ok {
		return Student{}, fmt.Errorf("%w: student profile of %s", ErrNotFound, userID)
	}
	return s, nil
}

// ListStudents mirrors the Postgres listing.
func (m *MemoryRepository) ListStudents(_ context.Context, excludeID string) ([]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Listing{}
	for id, p := range m.profiles {
		if id == excludeID || p.DeletedAt != nil {
			continue
		}
		l := Listing{Profile: p}
		if s, ok := m.students[id]; ok {
			l.Student = &s
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SoftDelete marks a profile deleted. Only tests call it; accounts are
// deactivated outside this service.
func (m *MemoryRepository) SoftDelete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		at := m.now().UTC()
		p.DeletedAt = &at
		m.profiles[id] = p
	}
}
