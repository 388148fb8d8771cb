package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ojtrack/internal/photostore"
)

var manila = time.FixedZone("UTC+08:00", 8*60*60)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02T15:04:05", s, manila)
	require.NoError(t, err)
	return ts
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	photos *photostore.Memory
}

func setup(t *testing.T, opts ...func(*Options)) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	photos := photostore.NewMemory("")
	var o Options
	for _, fn := range opts {
		fn(&o)
	}
	clock := NewDayClock(8 * time.Hour).WithNow(func() time.Time { return at(t, "2024-11-26T12:00:00") })
	return fixture{svc: NewService(repo, photos, clock, o), repo: repo, photos: photos}
}

func event(user string, ts time.Time) Event {
	return Event{
		UserID:     user,
		Photo:      Photo{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg"},
		Location:   &Location{Latitude: 14.5547, Longitude: 121.0244, Address: "Makati City"},
		OccurredAt: ts,
	}
}

func TestRecordEventDailyLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in, err := f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:45:00")))
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckIn, in.Type)
	assert.Equal(t, StatusCheckedIn, in.Attendance.Status)
	assert.Equal(t, "2024-11-26", in.Attendance.Date)
	require.NotNil(t, in.Attendance.CheckInTime)
	assert.True(t, in.Attendance.CheckInTime.Equal(at(t, "2024-11-26T08:45:00")))
	assert.Nil(t, in.Attendance.CheckOutTime)
	assert.Nil(t, in.HoursLogged)
	assert.Equal(t, "Makati City", in.Location)
	require.NotNil(t, in.Attendance.CheckInPhotoURL)
	assert.Contains(t, *in.Attendance.CheckInPhotoURL, "checkins/u1-")

	out, err := f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T17:30:00")))
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckOut, out.Type)
	assert.Equal(t, StatusCompleted, out.Attendance.Status)
	require.NotNil(t, out.HoursLogged)
	assert.Equal(t, 8.75, *out.HoursLogged)
	require.NotNil(t, out.Attendance.HoursLogged)
	assert.Equal(t, 8.75, *out.Attendance.HoursLogged)
	assert.Equal(t, in.Attendance.ID, out.Attendance.ID)
	require.NotNil(t, out.Attendance.CheckOutPhotoURL)
	assert.Contains(t, *out.Attendance.CheckOutPhotoURL, "checkouts/u1-")
	assert.Equal(t, 2, f.photos.Uploads)

	_, err = f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T18:00:00")))
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, 2, f.photos.Uploads, "no upload after completion")

	rec, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, out.Attendance, *rec, "completed record must not change")
	assert.Equal(t, 1, f.repo.Len())
}

func TestRecordEventClockSkew(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T09:00:00")))
	require.NoError(t, err)
	before, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)

	_, err = f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
	assert.ErrorIs(t, err, ErrClockSkew)
	assert.Equal(t, 1, f.photos.Uploads, "skewed check-out must not upload")

	after, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRecordEventDayBoundaryUsesClockZone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// 16:30 UTC on the 25th is 00:30 on the 26th at +08:00.
	out, err := f.svc.RecordEvent(ctx, event("u1", time.Date(2024, 11, 25, 16, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, "2024-11-26", out.Attendance.Date)

	// the next morning local time is a new day and a new check-in
	next, err := f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-27T08:00:00")))
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckIn, next.Type)
	assert.Equal(t, 2, f.repo.Len())
}

func TestRecordEventValidation(t *testing.T) {
	f := setup(t)
	ok := event("u1", at(t, "2024-11-26T08:00:00"))

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing user", func(e *Event) { e.UserID = " " }},
		{"missing photo", func(e *Event) { e.Photo.Data = nil }},
		{"missing time", func(e *Event) { e.OccurredAt = time.Time{} }},
		{"latitude out of range", func(e *Event) { e.Location.Latitude = 91 }},
		{"longitude out of range", func(e *Event) { e.Location.Longitude = -181 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := ok
			loc := *ok.Location
			evt.Location = &loc
			tt.mutate(&evt)
			_, err := f.svc.RecordEvent(context.Background(), evt)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
	assert.Equal(t, 0, f.photos.Uploads)
	assert.Equal(t, 0, f.repo.Len())
}

func TestRecordEventWithoutLocation(t *testing.T) {
	f := setup(t)
	evt := event("u1", at(t, "2024-11-26T08:00:00"))
	evt.Location = nil

	out, err := f.svc.RecordEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Nil(t, out.Attendance.CheckInLocation)
	assert.Nil(t, out.Attendance.CheckInLatitude)
	assert.Empty(t, out.Location)
}

func TestRecordEventUploadFailureWritesNothing(t *testing.T) {
	f := setup(t)
	f.photos.Fail = errors.New("storage unavailable")

	_, err := f.svc.RecordEvent(context.Background(), event("u1", at(t, "2024-11-26T08:00:00")))
	assert.ErrorIs(t, err, ErrUpload)
	assert.NotErrorIs(t, err, ErrRecordWrite)
	assert.Equal(t, 0, f.repo.Len())
}

// flakyRepo fails Insert and CheckOut until healed.
type flakyRepo struct {
	*MemoryRepository
	mu  sync.Mutex
	err error
}

func (r *flakyRepo) fail() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *flakyRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := r.fail(); err != nil {
		return Record{}, err
	}
	return r.MemoryRepository.Insert(ctx, rec)
}

func (r *flakyRepo) CheckOut(ctx context.Context, id string, p CheckOutPatch) (Record, error) {
	if err := r.fail(); err != nil {
		return Record{}, err
	}
	return r.MemoryRepository.CheckOut(ctx, id, p)
}

func TestRecordEventWriteFailureKeepsPhotoForResubmit(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository(), err: errors.New("connection reset")}
	photos := photostore.NewMemory("")
	svc := NewService(repo, photos, NewDayClock(8*time.Hour), Options{})
	ctx := context.Background()
	evt := event("u1", at(t, "2024-11-26T08:00:00"))

	_, err := svc.RecordEvent(ctx, evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordWrite)
	assert.NotErrorIs(t, err, ErrUpload)
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, photos.URL(PhotoPath(KindCheckIn, "u1", evt.OccurredAt)), writeErr.PhotoURL)
	assert.Equal(t, 1, photos.Len())
	assert.Equal(t, 0, repo.Len())

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()

	out, err := svc.RecordEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckIn, out.Type)
	require.NotNil(t, out.Attendance.CheckInPhotoURL)
	assert.Equal(t, writeErr.PhotoURL, *out.Attendance.CheckInPhotoURL)
	assert.Equal(t, 1, photos.Len(), "resubmit reuses the stored photo")
	assert.Equal(t, 2, photos.Uploads)
}

// lostAckRepo commits the insert and then reports the connection dropping.
type lostAckRepo struct {
	*MemoryRepository
	once sync.Once
}

func (r *lostAckRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	saved, err := r.MemoryRepository.Insert(ctx, rec)
	if err != nil {
		return saved, err
	}
	var ackErr error
	r.once.Do(func() { ackErr = errors.New("driver: bad connection") })
	if ackErr != nil {
		return Record{}, ackErr
	}
	return saved, nil
}

func TestRecordEventResubmitAfterCommittedCheckIn(t *testing.T) {
	repo := &lostAckRepo{MemoryRepository: NewMemoryRepository()}
	photos := photostore.NewMemory("")
	svc := NewService(repo, photos, NewDayClock(8*time.Hour), Options{})
	ctx := context.Background()
	evt := event("u1", at(t, "2024-11-26T08:00:00"))

	_, err := svc.RecordEvent(ctx, evt)
	require.ErrorIs(t, err, ErrRecordWrite)
	assert.Equal(t, 1, repo.Len(), "the row landed despite the error")

	out, err := svc.RecordEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckIn, out.Type)
	assert.Nil(t, out.HoursLogged)
	assert.Equal(t, StatusCheckedIn, out.Attendance.Status)
	assert.True(t, out.Time.Equal(evt.OccurredAt))
	assert.Equal(t, 1, photos.Uploads, "replay does not upload again")

	rec, err := repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
	assert.Nil(t, rec.CheckOutTime)

	checkOut, err := svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T16:30:00")))
	require.NoError(t, err)
	assert.Equal(t, TransitionCheckOut, checkOut.Type)
	require.NotNil(t, checkOut.HoursLogged)
	assert.Equal(t, 8.5, *checkOut.HoursLogged)
}

func TestRecordEventUnknownUserIsNotRetryable(t *testing.T) {
	f := setup(t)
	f.repo.PutProfile(Profile{UserID: "u1"})

	_, err := f.svc.RecordEvent(context.Background(), event("stranger", at(t, "2024-11-26T08:00:00")))
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.NotErrorIs(t, err, ErrRecordWrite)
	var writeErr *WriteError
	assert.False(t, errors.As(err, &writeErr))
	assert.Equal(t, 0, f.repo.Len())

	_, err = f.svc.RecordEvent(context.Background(), event("u1", at(t, "2024-11-26T08:00:00")))
	assert.NoError(t, err)
}

func TestRecordEventCheckOutWriteFailure(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	photos := photostore.NewMemory("")
	svc := NewService(repo, photos, NewDayClock(8*time.Hour), Options{})
	ctx := context.Background()

	_, err := svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
	require.NoError(t, err)

	repo.err = errors.New("deadlock detected")
	_, err = svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T17:00:00")))
	assert.ErrorIs(t, err, ErrRecordWrite)

	rec, err := repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
	assert.Nil(t, rec.CheckOutTime)
}

// staleRepo serves a fixed lookup result, simulating a concurrent request
// that changed the row after this request read it.
type staleRepo struct {
	*MemoryRepository
	seen *Record
}

func (r *staleRepo) FindByUserAndDate(context.Context, string, string) (*Record, error) {
	if r.seen == nil {
		return nil, nil
	}
	rec := *r.seen
	return &rec, nil
}

func TestRecordEventRacesResolvedByRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent first events", func(t *testing.T) {
		mem := NewMemoryRepository()
		svc := NewService(&staleRepo{MemoryRepository: mem}, photostore.NewMemory(""), NewDayClock(8*time.Hour), Options{})
		_, err := svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
		require.NoError(t, err)

		_, err = svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:01")))
		assert.ErrorIs(t, err, ErrConflict)
		assert.ErrorIs(t, err, ErrRecordWrite)
		assert.Equal(t, 1, mem.Len())
	})

	t.Run("concurrent check-outs", func(t *testing.T) {
		mem := NewMemoryRepository()
		photos := photostore.NewMemory("")
		plain := NewService(mem, photos, NewDayClock(8*time.Hour), Options{})
		in, err := plain.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
		require.NoError(t, err)
		stale := in.Attendance

		done, err := plain.RecordEvent(ctx, event("u1", at(t, "2024-11-26T17:00:00")))
		require.NoError(t, err)

		racer := NewService(&staleRepo{MemoryRepository: mem, seen: &stale}, photos, NewDayClock(8*time.Hour), Options{})
		_, err = racer.RecordEvent(ctx, event("u1", at(t, "2024-11-26T17:00:05")))
		assert.ErrorIs(t, err, ErrAlreadyCompleted)

		rec, err := mem.FindByUserAndDate(ctx, "u1", "2024-11-26")
		require.NoError(t, err)
		assert.Equal(t, done.Attendance, *rec)
	})

	t.Run("record removed before check-out", func(t *testing.T) {
		mem := NewMemoryRepository()
		plain := NewService(mem, photostore.NewMemory(""), NewDayClock(8*time.Hour), Options{})
		in, err := plain.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
		require.NoError(t, err)
		stale := in.Attendance
		mem.Delete(stale.ID)

		racer := NewService(&staleRepo{MemoryRepository: mem, seen: &stale}, photostore.NewMemory(""), NewDayClock(8*time.Hour), Options{})
		_, err = racer.RecordEvent(ctx, event("u1", at(t, "2024-11-26T17:00:00")))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// cancelAfterUpload cancels the request right after the photo is stored.
type cancelAfterUpload struct {
	*photostore.Memory
	cancel context.CancelFunc
}

func (c cancelAfterUpload) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	url, err := c.Memory.Upload(ctx, path, data, contentType)
	c.cancel()
	return url, err
}

func TestRecordEventCancelledAfterUploadSkipsWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := NewMemoryRepository()
	photos := cancelAfterUpload{Memory: photostore.NewMemory(""), cancel: cancel}
	svc := NewService(repo, photos, NewDayClock(8*time.Hour), Options{})

	_, err := svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrRecordWrite)
	assert.Equal(t, 0, repo.Len())
	assert.Equal(t, 1, photos.Len())
}

type geocoderFunc func(ctx context.Context, lat, lon float64) (string, error)

func (f geocoderFunc) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return f(ctx, lat, lon)
}

func TestRecordEventGeocoding(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		geocoder geocoderFunc
		want     *string
	}{
		{
			name:     "fills empty address",
			geocoder: func(context.Context, float64, float64) (string, error) { return "Ayala Ave, Makati", nil },
			want:     strPtr("Ayala Ave, Makati"),
		},
		{
			name:    "keeps client address",
			address: "Office",
			geocoder: func(context.Context, float64, float64) (string, error) {
				return "", errors.New("must not be called")
			},
			want: strPtr("Office"),
		},
		{
			name:     "failure leaves address empty",
			geocoder: func(context.Context, float64, float64) (string, error) { return "", errors.New("timeout") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, func(o *Options) { o.Geocoder = tt.geocoder })
			evt := event("u1", at(t, "2024-11-26T08:00:00"))
			evt.Location.Address = tt.address

			out, err := f.svc.RecordEvent(context.Background(), evt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Attendance.CheckInLocation)
			require.NotNil(t, out.Attendance.CheckInLatitude)
			assert.Equal(t, 14.5547, *out.Attendance.CheckInLatitude)
		})
	}
}

func TestSingleDailyRecordUnderManyEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := at(t, "2024-11-26T07:00:00")

	var completed, rejected int
	for i := 0; i < 10; i++ {
		_, err := f.svc.RecordEvent(ctx, event("u1", start.Add(time.Duration(i)*time.Hour)))
		if errors.Is(err, ErrAlreadyCompleted) {
			rejected++
			continue
		}
		require.NoError(t, err)
		completed++
	}
	assert.Equal(t, 2, completed)
	assert.Equal(t, 8, rejected)
	assert.Equal(t, 1, f.repo.Len())
}

func TestFindByUserAndDateIsStable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.RecordEvent(ctx, event("u1", at(t, "2024-11-26T08:00:00")))
	require.NoError(t, err)

	a, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	b, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-26")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	none, err := f.repo.FindByUserAndDate(ctx, "u1", "2024-11-25")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestHoursBetween(t *testing.T) {
	base := time.Date(2024, 11, 26, 8, 0, 0, 0, manila)
	tests := []struct {
		out     time.Duration
		want    float64
		wantErr error
	}{
		{0, 0, nil},
		{8*time.Hour + 45*time.Minute, 8.75, nil},
		{20 * time.Minute, 0.33, nil},
		{7*time.Hour + 59*time.Minute + 59*time.Second, 8, nil},
		{-time.Second, 0, ErrClockSkew},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.out), func(t *testing.T) {
			got, err := HoursBetween(base, base.Add(tt.out))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTodayAndHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, ts := range []string{"2024-11-25T08:00:00", "2024-11-26T08:00:00", "2024-11-28T08:00:00"} {
		_, err := f.svc.RecordEvent(ctx, event("u1", at(t, ts)))
		require.NoError(t, err)
	}

	rec, err = f.svc.Today(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2024-11-26", rec.Date)

	got, err := f.svc.History(ctx, "u1", "2024-11-26", "2024-11-30")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-11-26", got[0].Date)
	assert.Equal(t, "2024-11-28", got[1].Date)

	for _, rng := range [][2]string{{"2024-11-30", "2024-11-26"}, {"26-11-2024", "2024-11-30"}, {"2023-01-01", "2024-11-30"}} {
		_, err := f.svc.History(ctx, "u1", rng[0], rng[1])
		assert.ErrorIs(t, err, ErrInvalidRange, "%v", rng)
	}
}

func TestPhotoPath(t *testing.T) {
	ts := time.UnixMilli(1732581900000)
	assert.Equal(t, "checkins/u1-1732581900000.jpg", PhotoPath(KindCheckIn, "u1", ts))
	assert.Equal(t, "checkouts/u1-1732581900000.jpg", PhotoPath(KindCheckOut, "u1", ts))
}

func newTestPhotos() *photostore.Memory { return photostore.NewMemory("") }
