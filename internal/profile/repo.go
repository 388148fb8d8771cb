package profile

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const studentColumns = `id, user_id, student_id, COALESCE(company, ''), COALESCE(supervisor, ''),
	COALESCE(address, ''), COALESCE(duration, ''), created_at`

// PostgresRepository stores profiles in the profiles and student_profiles tables.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// CreateProfile inserts p.
func (r *PostgresRepository) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, name, email, mobile_no, user_type)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, name, email, COALESCE(mobile_no, ''), user_type, created_at, deleted_at
	`, p.ID, p.Name, p.Email, p.MobileNo, p.UserType)
	var saved Profile
	err := row.Scan(&saved.ID, &saved.Name, &saved.Email, &saved.MobileNo, &saved.UserType, &saved.CreatedAt, &saved.DeletedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Profile{}, errors.Wrapf(ErrExists, "id %s", p.ID)
		}
		return Profile{}, errors.Wrap(err, "insert profile")
	}
	return saved, nil
}

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.UserID, &s.StudentID, &s.Company, &s.Supervisor, &s.Address, &s.Duration, &s.CreatedAt)
	return s, err
}

// CreateStudent inserts the student profile of s.UserID.
func (r *PostgresRepository) CreateStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO student_profiles (id, user_id, student_id, company, supervisor, address, duration)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		RETURNING `+studentColumns,
		s.ID, s.UserID, s.StudentID, s.Company, s.Supervisor, s.Address, s.Duration)
	saved, err := scanStudent(row)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return Student{}, errors.Wrapf(ErrExists, "student profile of %s", s.UserID)
		case pgForeignKeyViolation:
			return Student{}, errors.Wrapf(ErrNoProfile, "user %s", s.UserID)
		}
		return Student{}, errors.Wrap(err, "insert student profile")
	}
	return saved, nil
}

// GetStudent loads the student profile of userID.
func (r *PostgresRepository) GetStudent(ctx context.Context, userID string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM student_profiles WHERE user_id = $1`, userID)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, errors.Wrapf(ErrNotFound, "student profile of %s", userID)
		}
		return Student{}, errors.Wrap(err, "select student profile")
	}
	return s, nil
}

// ListStudents returns live profiles except excludeID with their student details.
func (r *PostgresRepository) ListStudents(ctx context.Context, excludeID string) ([]Listing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.email, COALESCE(p.mobile_no, ''), p.user_type, p.created_at,
			sp.id, sp.student_id, COALESCE(sp.company, ''), COALESCE(sp.supervisor, ''),
			COALESCE(sp.address, ''), COALESCE(sp.duration, ''), sp.created_at
		FROM profiles p
		LEFT JOIN student_profiles sp ON sp.user_id = p.id
		WHERE p.deleted_at IS NULL AND p.id <> $1
		ORDER BY p.name, p.id
	`, excludeID)
	if err != nil {
		return nil, errors.Wrap(err, "select students")
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		var l Listing
		var spID, studentID sql.NullString
		var company, supervisor, address, duration sql.NullString
		var spCreated sql.NullTime
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &l.MobileNo, &l.UserType, &l.CreatedAt,
			&spID, &studentID, &company, &supervisor, &address, &duration, &spCreated); err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		if spID.Valid {
			l.Student = &Student{
				ID:         spID.String,
				UserID:     l.ID,
				StudentID:  studentID.String,
				Company:    company.String,
				Supervisor: supervisor.String,
				Address:    address.String,
				Duration:   duration.String,
				CreatedAt:  spCreated.Time,
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
