package attendance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StatusFilter selects records on the admin dashboard.
type StatusFilter string

const (
	FilterAll        StatusFilter = "ALL"
	FilterCheckedIn  StatusFilter = "checked_in"
	FilterCheckedOut StatusFilter = "checked_out"
)

// ParseStatusFilter accepts the dashboard filter values; empty means ALL.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.TrimSpace(s)); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterCheckedIn, FilterCheckedOut:
		return f, nil
	case StatusFilter(StatusCompleted):
		return FilterCheckedOut, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Stored maps the filter to the stored status. FilterAll maps to "".
func (f StatusFilter) Stored() Status {
	switch f {
	case FilterCheckedIn:
		return StatusCheckedIn
	case FilterCheckedOut:
		return StatusCompleted
	default:
		return ""
	}
}

// SearchQuery is the admin dashboard search input. A zero Limit returns every match.
type SearchQuery struct {
	Query         string
	CurrentUserID string
	Status        StatusFilter
	Limit         int
	Offset        int
}

// MaxSearchLimit caps a dashboard page.
const MaxSearchLimit = 500

// StudentInfo is the profile data joined onto admin rows.
type StudentInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	StudentID  string `json:"student_id"`
	Company    string `json:"company"`
	Supervisor string `json:"supervisor"`
}

// AdminRow is a record with its owner's profile.
type AdminRow struct {
	Record
	Student StudentInfo `json:"student"`
}

// Stats are the dashboard counters over a result set.
type Stats struct {
	TotalCheckIns  int `json:"total_check_ins"`
	TotalCheckOuts int `json:"total_check_outs"`
}

// AdminRepository backs the dashboard.
type AdminRepository interface {
	// SearchIDs returns matching attendance ids, newest day first. Rows of
	// CurrentUserID and of soft-deleted profiles are excluded.
	SearchIDs(ctx context.Context, q SearchQuery) ([]string, error)
	// ListByIDs loads rows for ids, keeping the order of ids.
	ListByIDs(ctx context.Context, ids []string) ([]AdminRow, error)
}

// AdminService answers dashboard queries.
type AdminService struct {
	repo AdminRepository
	log  *zap.Logger
}

// NewAdminService creates the dashboard service.
func NewAdminService(repo AdminRepository, log *zap.Logger) *AdminService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminService{repo: repo, log: log.Named("admin")}
}

// Search runs q and returns the matching rows with their counters.
func (a *AdminService) Search(ctx context.Context, q SearchQuery) ([]AdminRow, Stats, error) {
	if q.Status == "" {
		q.Status = FilterAll
	}
	q.Query = strings.TrimSpace(q.Query)
	if q.Limit < 0 || q.Offset < 0 {
		return nil, Stats{}, fmt.Errorf("%w: negative limit or offset", ErrInvalidRange)
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	ids, err := a.repo.SearchIDs(ctx, q)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("search attendance: %w", err)
	}
	if len(ids) == 0 {
		return []AdminRow{}, Stats{}, nil
	}
	rows, err := a.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load attendance: %w", err)
	}
	a.log.Debug("admin search", zap.String("query", q.Query), zap.String("status", string(q.Status)), zap.Int("rows", len(rows)))
	return rows, Summarize(rows), nil
}

// Summarize counts check-ins and check-outs.
func Summarize(rows []AdminRow) Stats {
	var s Stats
	for _, r := range rows {
		if r.CheckInTime != nil {
			s.TotalCheckIns++
		}
		if r.CheckOutTime != nil {
			s.TotalCheckOuts++
		}
	}
	return s
}
