package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ojtrack/internal/auth"
	"ojtrack/internal/profile"
)

// createProfile registers the caller's account profile at sign-up.
func (h *Handler) createProfile(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		MobileNo string `json:"mobile_no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.profiles.Register(c.Request.Context(), profile.Profile{
		ID:       claims.Subject,
		Name:     req.Name,
		Email:    req.Email,
		MobileNo: req.MobileNo,
		UserType: claims.Role,
	})
	if err != nil {
		h.profileError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) studentProfile(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	st, err := h.profiles.Student(c.Request.Context(), claims.Subject)
	if err != nil {
		h.profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) createStudentProfile(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req struct {
		StudentID  string `json:"student_id" binding:"required"`
		Company    string `json:"company" binding:"required"`
		Supervisor string `json:"supervisor"`
		Address    string `json:"address"`
		Duration   string `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.profiles.CreateStudent(c.Request.Context(), profile.Student{
		UserID:     claims.Subject,
		StudentID:  req.StudentID,
		Company:    req.Company,
		Supervisor: req.Supervisor,
		Address:    req.Address,
		Duration:   req.Duration,
	})
	if err != nil {
		h.profileError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// students lists every other live profile with its student details.
func (h *Handler) students(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	list, err := h.profiles.Students(c.Request.Context(), claims.Subject)
	if err != nil {
		h.profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (h *Handler) profileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, profile.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": profile.ErrNotFound.Error()})
	case errors.Is(err, profile.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": profile.ErrExists.Error()})
	case errors.Is(err, profile.ErrNoProfile):
		c.JSON(http.StatusForbidden, gin.H{"error": "create your profile first"})
	default:
		h.log.Error("profile request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
