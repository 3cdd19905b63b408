package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/jobs"
	"github.com/fyrsmithlabs/execd/internal/workflow"
)

func (s *Server) submitJob(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	spec := req.spec()
	s.applyModelDefaults(&spec)
	mode, err := jobs.ParseMode(spec.Tags)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	// Reject before persisting anything so a busy engine does not leave
	// orphaned QUEUED records behind the 409.
	if active := s.runner.Active(); active != "" {
		return c.JSON(http.StatusConflict, errorResponse{Error: fmt.Sprintf("%s: %s", jobs.ErrJobActive, active)})
	}

	ctx := c.Request().Context()
	jobID := uuid.NewString()
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, created, err := s.store.CreateOrGetJob(ctx, key, jobID, spec)
		if err != nil {
			s.logger.Error("failed to persist job spec", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist job spec"})
		}
		if !created {
			s.logger.Info("idempotency key replay",
				zap.String("idempotency_key", key), zap.String("job_id", existing))
			return c.JSON(http.StatusAccepted, submitJobResponse{JobID: existing})
		}
	} else if err := s.store.SaveSpec(ctx, jobID, spec); err != nil {
		s.logger.Error("failed to persist job spec", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist job spec"})
	}
	if err := s.store.UpdateStatus(ctx, jobID, jobs.QueuedStatus(jobID)); err != nil {
		s.logger.Error("failed to persist queued status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist job status"})
	}

	if _, err := s.runner.RunAsync(jobID, spec); err != nil {
		if errors.Is(err, jobs.ErrJobActive) {
			// Another submission won the slot between the pre-check and
			// here. Fail the record we just queued so it is not stranded.
			status := jobs.QueuedStatus(jobID)
			status.Fail(err.Error())
			if uerr := s.store.UpdateStatus(ctx, jobID, status); uerr != nil {
				s.logger.Error("failed to fail rejected job", zap.String("job_id", jobID), zap.Error(uerr))
			}
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		}
		s.logger.Error("job submission failed", zap.String("job_id", jobID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	s.metrics.jobsSubmitted.WithLabelValues(string(mode)).Inc()
	return c.JSON(http.StatusAccepted, submitJobResponse{JobID: jobID})
}

func (s *Server) getJob(c echo.Context) error {
	status, err := s.store.LoadStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrStatusNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "job not found"})
		}
		s.logger.Error("failed to load job status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load job status"})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) cancelJob(c echo.Context) error {
	jobID := c.Param("id")
	s.runner.Cancel(jobID)
	s.metrics.cancelRequests.Inc()
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) listEvents(c echo.Context) error {
	jobID := c.Param("id")
	since := int64(0)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid since parameter"})
		}
		since = parsed
	}

	evs, err := s.store.ListEvents(c.Request().Context(), jobID, since)
	if err != nil {
		s.logger.Error("failed to list events", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list events"})
	}
	return c.JSON(http.StatusOK, evs)
}

func (s *Server) fixIssue(c echo.Context) error {
	if s.orchestrator == nil {
		return c.JSON(http.StatusNotImplemented, errorResponse{Error: "issue-fix workflow not configured"})
	}

	var req fixIssueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Owner == "" || req.Repo == "" || req.Number <= 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "owner, repo and number are required"})
	}

	jobID := uuid.NewString()
	if !s.fixReservation.TryAcquire(jobID) {
		return c.JSON(http.StatusConflict, errorResponse{Error: "another issue-fix workflow is already running"})
	}

	spec := jobs.JobSpec{
		TaskInput:    req.TaskInput,
		AutoCommit:   req.AutoCommit,
		AutoCompress: req.AutoCompress,
		PlannerModel: req.PlannerModel,
		CodeModel:    req.CodeModel,
	}
	s.applyModelDefaults(&spec)

	ctx := c.Request().Context()
	if err := s.store.SaveSpec(ctx, jobID, spec); err != nil {
		s.fixReservation.ReleaseIfOwner(jobID)
		s.logger.Error("failed to persist job spec", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist job spec"})
	}
	if err := s.store.UpdateStatus(ctx, jobID, jobs.QueuedStatus(jobID)); err != nil {
		s.fixReservation.ReleaseIfOwner(jobID)
		s.logger.Error("failed to persist queued status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist job status"})
	}

	branch := issueBranchName(req.Number, req.Title)
	s.orchestrator.Execute(jobID, spec, workflow.IssueFixRequest{
		Owner:  req.Owner,
		Repo:   req.Repo,
		Number: req.Number,
		Title:  req.Title,
	}, branch, s.fixReservation)

	s.metrics.jobsSubmitted.WithLabelValues(string(jobs.ModePlan)).Inc()
	return c.JSON(http.StatusAccepted, fixIssueResponse{JobID: jobID, Branch: branch})
}

func (s *Server) applyModelDefaults(spec *jobs.JobSpec) {
	if strings.TrimSpace(spec.PlannerModel) == "" {
		spec.PlannerModel = s.defaults.Planner
	}
	if strings.TrimSpace(spec.ScanModel) == "" {
		spec.ScanModel = s.defaults.Scan
	}
}

// issueBranchName builds a deterministic branch name for an issue fix.
func issueBranchName(number int, title string) string {
	return fmt.Sprintf("execd/issue-%d-%s", number, slugify(title))
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
