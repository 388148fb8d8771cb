// Package profile manages account profiles and the student details attached to them.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalid  = errors.New("invalid profile")
	ErrExists   = errors.New("profile already exists")
	ErrNotFound = errors.New("profile not found")
	// ErrNoProfile means a student profile was created before the account profile.
	ErrNoProfile = errors.New("account profile required")
)

// User types stored on profiles.
const (
	TypeStudent    = "student"
	TypeAdmin      = "admin"
	TypeSupervisor = "supervisor"
)

// Profile is the account record created at sign-up.
type Profile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	MobileNo  string     `json:"mobile_no"`
	UserType  string     `json:"user_type"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Student holds the internship details of a student account.
type Student struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StudentID  string    `json:"student_id"`
	Company    string    `json:"company"`
	Supervisor string    `json:"supervisor"`
	Address    string    `json:"address"`
	Duration   string    `json:"duration"`
	CreatedAt  time.Time `json:"created_at"`
}

// Listing is a profile with its student details, nil when none exist yet.
type Listing struct {
	Profile
	Student *Student `json:"student"`
}

// Repository stores profiles.
type Repository interface {
	// CreateProfile fails with ErrExists when the id is taken.
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	// CreateStudent fails with ErrExists for a second student profile of the
	// same user and ErrNoProfile when the user has no account profile.
	CreateStudent(ctx context.Context, s Student) (Student, error)
	// GetStudent fails with ErrNotFound when the user has no student profile.
	GetStudent(ctx context.Context, userID string) (Student, error)
	// ListStudents returns live profiles other than excludeID, ordered by name.
	ListStudents(ctx context.Context, excludeID string) ([]Listing, error)
}

// Service validates profile writes.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a profile service.
func NewService(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log.Named("profile")}
}

// Register creates the caller's account profile.
func (s *Service) Register(ctx context.Context, p Profile) (Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.MobileNo = strings.TrimSpace(p.MobileNo)
	if p.UserType == "" {
		p.UserType = TypeStudent
	}
	switch {
	case p.ID == "":
		return Profile{}, fmt.Errorf("%w: id is required", ErrInvalid)
	case p.Name == "":
		return Profile{}, fmt.Errorf("%w: name is required", ErrInvalid)
	case !strings.Contains(p.Email, "@"):
		return Profile{}, fmt.Errorf("%w: email %q", ErrInvalid, p.Email)
	case p.UserType != TypeStudent && p.UserType != TypeAdmin && p.UserType != TypeSupervisor:
		return Profile{}, fmt.Errorf("%w: user type %q", ErrInvalid, p.UserType)
	}
	saved, err := s.repo.CreateProfile(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	s.log.Info("profile created", zap.String("user_id", saved.ID), zap.String("user_type", saved.UserType))
	return saved, nil
}

// Student returns the student details of userID.
func (s *Service) Student(ctx context.Context, userID string) (Student, error) {
	return s.repo.GetStudent(ctx, userID)
}

// CreateStudent attaches student details to userID's profile.
func (s *Service) CreateStudent(ctx context.Context, st Student) (Student, error) {
	for _, f := range []*string{&st.UserID, &st.StudentID, &st.Company, &st.Supervisor, &st.Address, &st.Duration} {
		*f = strings.TrimSpace(*f)
	}
	switch {
	case st.UserID == "":
		return Student{}, fmt.Errorf("%w: user id is required", ErrInvalid)
	case st.StudentID == "":
		return Student{}, fmt.Errorf("%w: student id is required", ErrInvalid)
	case st.Company == "":
		return Student{}, fmt.Errorf("%w: company is required", ErrInvalid)
	}
	saved, err := s.repo.CreateStudent(ctx, st)
	if err != nil {
		return Student{}, err
	}
	s.log.Info("student profile created", zap.String("user_id", saved.UserID), zap.String("company", saved.Company))
	return saved, nil
}

// Students lists every live profile except the caller's.
func (s *Service) Students(ctx context.Context, currentUserID string) ([]Listing, error) {
	return s.repo.ListStudents(ctx, currentUserID)
}
