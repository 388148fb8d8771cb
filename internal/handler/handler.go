// Package handler exposes the attendance service over HTTP.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ojtrack/internal/attendance"
	"ojtrack/internal/auth"
	"ojtrack/internal/httpmiddleware"
	"ojtrack/internal/profile"
	"ojtrack/internal/queue"
	"ojtrack/internal/report"
	"ojtrack/internal/worker"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// ErrorCheck adapts a health call that reports failure as an error.
func ErrorCheck(fn func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) bool { return fn(ctx) == nil }
}

// Options configures the router.
type Options struct {
	// DevTokens enables POST /v1/auth/token. Never set in production.
	DevTokens       bool
	MaxPhotoBytes   int64
	MaxClockDrift   time.Duration
	RateLimitPerMin int
	AllowedOrigins  []string
	Health          map[string]HealthCheck
}

// Handler serves the attendance API.
type Handler struct {
	svc      *attendance.Service
	admin    *attendance.AdminService
	profiles *profile.Service
	signer   *auth.Signer
	queue    queue.Queue
	opts     Options
	log      *zap.Logger
}

// New creates a handler. q may be nil, in which case transitions are not published.
func New(svc *attendance.Service, admin *attendance.AdminService, profiles *profile.Service, signer *auth.Signer, q queue.Queue, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = 8 << 20
	}
	if opts.MaxClockDrift <= 0 {
		opts.MaxClockDrift = 15 * time.Minute
	}
	return &Handler{svc: svc, admin: admin, profiles: profiles, signer: signer, queue: q, opts: opts, log: log.Named("http")}
}

// Router builds the gin engine with middleware and routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(httpmiddleware.RequestLogger(h.log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Recovery(h.log))
	r.Use(cors.New(corsConfig(h.opts.AllowedOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	if h.opts.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewRateLimiter(h.opts.RateLimitPerMin).GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.POST("/auth/token", h.issueToken)
	v1.POST("/auth/refresh", h.refreshToken)

	v1.POST("/profiles", auth.Bearer(h.signer), h.createProfile)
	me := v1.Group("/profiles/me", auth.Bearer(h.signer), auth.RequireRole(auth.RoleStudent))
	me.GET("/student", h.studentProfile)
	me.POST("/student", h.createStudentProfile)

	student := v1.Group("/attendance", auth.Bearer(h.signer), auth.RequireRole(auth.RoleStudent))
	student.POST("/events", h.recordEvent)
	student.GET("/today", h.today)
	student.GET("/week", h.week)
	student.GET("/history", h.history)

	admin := v1.Group("/admin", auth.Bearer(h.signer), auth.RequireRole(auth.RoleAdmin))
	admin.GET("/attendance", h.search)
	admin.GET("/attendance/export", h.export)
	admin.GET("/students", h.students)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.opts.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) issueToken(c *gin.Context) {
	if !h.opts.DevTokens {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req struct {
		Subject string `json:"subject" binding:"required"`
		Role    string `json:"role" binding:"required,oneof=student admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.signer.Issue(req.Subject, req.Role)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (h *Handler) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.signer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// recordEvent accepts multipart/form-data with a photo file and optional
// latitude, longitude, location and occurred_at fields.
func (h *Handler) recordEvent(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	// room for the form fields around the photo
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxPhotoBytes+64<<10)

	evt, err := h.parseEvent(c, claims.Subject)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.svc.RecordEvent(c.Request.Context(), evt)
	if err != nil {
		h.writeError(c, err, evt)
		return
	}
	h.publish(out)

	status := http.StatusCreated
	if out.Type == attendance.TransitionCheckOut {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func (h *Handler) parseEvent(c *gin.Context, userID string) (attendance.Event, error) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return attendance.Event{}, err
		}
		return attendance.Event{}, errors.New("photo field required")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxPhotoBytes+1))
	if err != nil {
		return attendance.Event{}, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(data)) > h.opts.MaxPhotoBytes {
		return attendance.Event{}, &http.MaxBytesError{Limit: h.opts.MaxPhotoBytes}
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return attendance.Event{}, fmt.Errorf("photo must be an image, got %s", contentType)
	}

	evt := attendance.Event{
		UserID:     userID,
		Photo:      attendance.Photo{Data: data, ContentType: contentType},
		OccurredAt: h.svc.Clock().Now(),
	}

	if v := c.PostForm("occurred_at"); v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return attendance.Event{}, fmt.Errorf("occurred_at must be RFC 3339: %w", err)
		}
		if drift := evt.OccurredAt.Sub(at); drift > h.opts.MaxClockDrift || drift < -h.opts.MaxClockDrift {
			return attendance.Event{}, fmt.Errorf("occurred_at is more than %s away from server time", h.opts.MaxClockDrift)
		}
		evt.OccurredAt = at
	}

	lat, lon := c.PostForm("latitude"), c.PostForm("longitude")
	addr := strings.TrimSpace(c.PostForm("location"))
	switch {
	case lat != "" && lon != "":
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return attendance.Event{}, fmt.Errorf("invalid latitude: %w", err)
		}
		lo, err := strconv.ParseFloat(lon, 64)
		if err != nil {
			return attendance.Event{}, fmt.Errorf("invalid longitude: %w", err)
		}
		evt.Location = &attendance.Location{Latitude: la, Longitude: lo, Address: addr}
	case lat != "" || lon != "":
		return attendance.Event{}, errors.New("latitude and longitude must be sent together")
	}
	return evt, nil
}

func (h *Handler) publish(out attendance.Outcome) {
	if h.queue == nil {
		return
	}
	msg, err := worker.NewTransitionMessage(attendance.TransitionOf(out))
	if err != nil {
		h.log.Error("encode transition failed", zap.Error(err))
		return
	}
	// the request may already be finished; publishing must not be cut short by it
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.queue.Publish(ctx, msg); err != nil {
		h.log.Warn("queue publish failed", zap.String("record_id", out.Attendance.ID), zap.Error(err))
	}
}

func (h *Handler) writeError(c *gin.Context, err error, evt attendance.Event) {
	var writeErr *attendance.WriteError
	switch {
	case errors.Is(err, attendance.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrUpload):
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed", "retry": "retake"})
	case errors.Is(err, attendance.ErrClockSkew):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": attendance.ErrAlreadyCompleted.Error()})
	case errors.Is(err, attendance.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": attendance.ErrConflict.Error(), "retryable": true})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": attendance.ErrNotFound.Error()})
	case errors.Is(err, attendance.ErrUnknownUser):
		c.JSON(http.StatusForbidden, gin.H{"error": "create your profile before recording attendance"})
	case errors.Is(err, attendance.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &writeErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       attendance.ErrRecordWrite.Error(),
			"retry":       "resubmit",
			"photo_url":   writeErr.PhotoURL,
			"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
		})
	default:
		h.log.Error("attendance request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) today(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	rec, err := h.svc.Today(c.Request.Context(), claims.Subject)
	if err != nil {
		h.writeError(c, err, attendance.Event{})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"date": h.svc.Clock().Today(), "status": attendance.StatusNotCheckedIn, "attendance": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": rec.Date, "status": rec.Status, "attendance": rec})
}

func (h *Handler) week(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	day := c.Query("date")
	if day == "" {
		day = h.svc.Clock().Today()
	} else if _, err := h.svc.Clock().ParseDate(day); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	rep, err := h.svc.WeekReport(c.Request.Context(), claims.Subject, day)
	if err != nil {
		h.writeError(c, err, attendance.Event{})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) history(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	records, err := h.svc.History(c.Request.Context(), claims.Subject, c.Query("from"), c.Query("to"))
	if err != nil {
		if errors.Is(err, attendance.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err, attendance.Event{})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) searchQuery(c *gin.Context) (attendance.SearchQuery, bool) {
	claims, _ := auth.ClaimsFrom(c)
	status, err := attendance.ParseStatusFilter(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return attendance.SearchQuery{}, false
	}
	q := attendance.SearchQuery{Query: c.Query("q"), CurrentUserID: claims.Subject, Status: status}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
			return attendance.SearchQuery{}, false
		}
		*dst = n
	}
	return q, true
}

func (h *Handler) search(c *gin.Context) {
	q, ok := h.searchQuery(c)
	if !ok {
		return
	}
	rows, stats, err := h.admin.Search(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err, attendance.Event{})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows, "stats": stats})
}

func (h *Handler) export(c *gin.Context) {
	q, ok := h.searchQuery(c)
	if !ok {
		return
	}
	rows, _, err := h.admin.Search(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err, attendance.Event{})
		return
	}
	var buf bytes.Buffer
	if err := report.WriteAttendance(&buf, rows, h.svc.Clock().Location()); err != nil {
		h.log.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := fmt.Sprintf("attendance-%s.xlsx", h.svc.Clock().Today())
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
