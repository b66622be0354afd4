package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/service"
)

func (s *Server) handleCreateAction(c *gin.Context) {
	projectUUID, ok := s.uuidParam(c, "project")
	if !ok {
		return
	}
	var req service.CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	action, err := s.actions.Create(c.Request.Context(), projectUUID, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

func (s *Server) handleGetAction(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	action, err := s.actions.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (s *Server) handleUpdateAction(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	var req service.UpdateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	action, err := s.actions.Update(c.Request.Context(), id, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (s *Server) handleDeleteAction(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	if err := s.actions.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleActionWarnings(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	warnings, err := s.actions.Warnings(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings})
}

func (s *Server) handleActionJobs(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	jobs, err := s.actions.Jobs(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	job, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	job, err := s.jobs.Cancel(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleJobLog(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	afterID, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		s.writeError(c, domain.NewValidationError("after", "must be an integer", c.Query("after")))
		return
	}
	job, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	entries, err := s.jobs.Logs(c.Request.Context(), job, afterID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type submitQueryRequest struct {
	Settings domain.JSONText `json:"settings"`
}

func (s *Server) handleSubmitQuery(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	query, err := s.jobs.SubmitSeqvarsQuery(c.Request.Context(), id, req.Settings)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, query)
}

func (s *Server) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.writeError(c, domain.NewValidationError(name, "must be a UUID", c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps err onto a status code and an APIError body.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString("correlation_id")
	var (
		status  int
		apiErr  *domain.APIError
		invalid *domain.ValidationError
	)
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
		apiErr = domain.NewAPIError(domain.ErrCodeValidation, invalid.Error(), invalid.Field, requestID)
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		apiErr = domain.NewAPIError(domain.ErrCodeNotFound, "resource not found", err.Error(), requestID)
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
		apiErr = domain.NewAPIError(domain.ErrCodeConflict, "resource already exists", err.Error(), requestID)
	case errors.Is(err, domain.ErrNotModifiable):
		status = http.StatusConflict
		apiErr = domain.NewAPIError(domain.ErrCodeConflict, domain.ErrNotModifiable.Error(), err.Error(), requestID)
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
		apiErr = domain.NewAPIError(domain.ErrCodeInvalidTransition, "invalid state transition", err.Error(), requestID)
	default:
		status = http.StatusInternalServerError
		apiErr = domain.NewAPIError(domain.ErrCodeInternalServer, "internal server error", "", requestID)
		s.log.WithError(err).WithField("request_id", requestID).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, apiErr)
}
