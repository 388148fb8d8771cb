package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Postgres SQLSTATEs the repository maps to sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const recordColumns = `id, user_id, to_char(date, 'YYYY-MM-DD'),
	check_in_time, check_out_time, check_in_photo_url, check_out_photo_url,
	check_in_location, check_out_location,
	check_in_latitude, check_in_longitude, check_out_latitude, check_out_longitude,
	hours_logged::float8, status, created_at, updated_at`

// PostgresRepository persists attendance in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Date,
		&rec.CheckInTime, &rec.CheckOutTime, &rec.CheckInPhotoURL, &rec.CheckOutPhotoURL,
		&rec.CheckInLocation, &rec.CheckOutLocation,
		&rec.CheckInLatitude, &rec.CheckInLongitude, &rec.CheckOutLatitude, &rec.CheckOutLongitude,
		&rec.HoursLogged, &status, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Status = Status(status)
	return rec, err
}

// FindByUserAndDate returns the user's record for date, or nil.
func (r *PostgresRepository) FindByUserAndDate(ctx context.Context, userID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE user_id = $1 AND date = $2::date
	`, userID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select attendance by day")
	}
	return &rec, nil
}

// Get returns a record by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, errors.Wrapf(ErrNotFound, "id %s", id)
		}
		return Record{}, errors.Wrap(err, "select attendance")
	}
	return rec, nil
}

// Insert writes a new record. The (user_id, date) unique index turns a
// concurrent first event into ErrConflict.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusCheckedIn
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, user_id, date, check_in_time, check_in_photo_url,
			check_in_location, check_in_latitude, check_in_longitude, status)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)
		RETURNING `+recordColumns,
		rec.ID, rec.UserID, rec.Date, rec.CheckInTime, rec.CheckInPhotoURL,
		rec.CheckInLocation, rec.CheckInLatitude, rec.CheckInLongitude, string(rec.Status))
	saved, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return Record{}, errors.Wrapf(ErrConflict, "user %s on %s", rec.UserID, rec.Date)
			case pgForeignKeyViolation:
				return Record{}, errors.Wrapf(ErrUnknownUser, "user %s", rec.UserID)
			}
		}
		return Record{}, errors.Wrap(err, "insert attendance")
	}
	return saved, nil
}

// CheckOut completes a checked-in record. The WHERE clause makes it a
// compare-and-swap on check_out_time IS NULL.
func (r *PostgresRepository) CheckOut(ctx context.Context, id string, p CheckOutPatch) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance
		SET check_out_time = $2,
			check_out_photo_url = $3,
			check_out_location = $4,
			check_out_latitude = $5,
			check_out_longitude = $6,
			hours_logged = $7,
			status = $8,
			updated_at = NOW()
		WHERE id = $1 AND check_in_time IS NOT NULL AND check_out_time IS NULL
		RETURNING `+recordColumns,
		id, p.Time, p.PhotoURL, p.Location, p.Latitude, p.Longitude, p.HoursLogged, string(StatusCompleted))
	saved, err := scanRecord(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrap(err, "update attendance")
	}
	// Nothing matched: either the row is gone or someone completed it first.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Record{}, getErr
	}
	return Record{}, errors.Wrapf(ErrAlreadyCompleted, "id %s", id)
}

// FindByUserAndDateRange returns records in [start, end] ascending by date.
func (r *PostgresRepository) FindByUserAndDateRange(ctx context.Context, userID, start, end string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date ASC
	`, userID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "select attendance range")
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attendance")
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SearchIDs implements the dashboard search over attendance joined with profiles.
func (r *PostgresRepository) SearchIDs(ctx context.Context, q SearchQuery) ([]string, error) {
	query := `
		SELECT a.id
		FROM attendance a
		JOIN profiles p ON p.id = a.user_id
		LEFT JOIN student_profiles sp ON sp.user_id = a.user_id
		WHERE p.deleted_at IS NULL`
	args := []any{}
	if q.CurrentUserID != "" {
		args = append(args, q.CurrentUserID)
		query += " AND a.user_id <> $" + strconv.Itoa(len(args))
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := "$" + strconv.Itoa(len(args))
		query += " AND (p.name ILIKE " + n + " OR p.email ILIKE " + n +
			" OR sp.student_id ILIKE " + n + " OR sp.company ILIKE " + n + ")"
	}
	if st := q.Status.Stored(); st != "" {
		args = append(args, string(st))
		query += " AND a.status = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY a.date DESC, a.check_in_time DESC, a.id"
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "search attendance")
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan attendance id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByIDs loads admin rows for ids in the given order.
func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]AdminRow, error) {
	if len(ids) == 0 {
		return []AdminRow{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, to_char(a.date, 'YYYY-MM-DD'),
			a.check_in_time, a.check_out_time, a.check_in_photo_url, a.check_out_photo_url,
			a.check_in_location, a.check_out_location,
			a.check_in_latitude, a.check_in_longitude, a.check_out_latitude, a.check_out_longitude,
			a.hours_logged::float8, a.status, a.created_at, a.updated_at,
			p.name, p.email,
			COALESCE(sp.student_id, ''), COALESCE(sp.company, ''), COALESCE(sp.supervisor, '')
		FROM attendance a
		JOIN profiles p ON p.id = a.user_id
		LEFT JOIN student_profiles sp ON sp.user_id = a.user_id
		WHERE a.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select attendance rows")
	}
	defer rows.Close()

	byID := make(map[string]AdminRow, len(ids))
	for rows.Next() {
		var row AdminRow
		var status string
		if err := rows.Scan(&row.ID, &row.UserID, &row.Date,
			&row.CheckInTime, &row.CheckOutTime, &row.CheckInPhotoURL, &row.CheckOutPhotoURL,
			&row.CheckInLocation, &row.CheckOutLocation,
			&row.CheckInLatitude, &row.CheckInLongitude, &row.CheckOutLatitude, &row.CheckOutLongitude,
			&row.HoursLogged, &status, &row.CreatedAt, &row.UpdatedAt,
			&row.Student.Name, &row.Student.Email,
			&row.Student.StudentID, &row.Student.Company, &row.Student.Supervisor); err != nil {
			return nil, errors.Wrap(err, "scan attendance row")
		}
		row.Status = Status(status)
		byID[row.ID] = row
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]AdminRow, 0, len(byID))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
