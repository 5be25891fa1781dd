package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/services/extraction"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SubmitResponse is the response body for POST /extractor/requests.
type SubmitResponse struct {
	RequestID string                 `json:"request_id"`
	State     constants.RequestState `json:"state"`
	Progress  float64                `json:"progress"`
}

// StatusResponse is the response body for GET /extractor/requests/:id.
type StatusResponse struct {
	RequestID string                 `json:"request_id"`
	State     constants.RequestState `json:"state"`
	Progress  float64                `json:"progress"`
	Message   string                 `json:"message"`
	Errors    []entity.FileError     `json:"errors"`
}

// RetryResponse is the response body for POST /extractor/requests/:id/retry.
type RetryResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req extraction.SubmitRequest
	if err := c.Bind(&req); err != nil {
		common.LoggerFromContext(c.Request().Context(), s.logger).Warn("http.submit.bind_failed", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := s.svc.Submit(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, SubmitResponse{RequestID: r.ID, State: r.State, Progress: r.Progress})
}

func (s *Server) handleStatus(c echo.Context) error {
	r, err := s.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	errs := r.Errors
	if errs == nil {
		errs = []entity.FileError{}
	}
	return c.JSON(http.StatusOK, StatusResponse{
		RequestID: r.ID,
		State:     r.State,
		Progress:  r.Progress,
		Message:   r.Message,
		Errors:    errs,
	})
}

func (s *Server) handleEvents(c echo.Context) error {
	var after int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "after must be a non-negative integer")
		}
		after = n
	}
	if wantsEventStream(c.Request()) {
		return s.streamEvents(c, c.Param("id"), after)
	}
	evs, err := s.svc.Events(c.Request().Context(), c.Param("id"), after)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, evs)
}

func (s *Server) handleDraft(c echo.Context) error {
	b, err := s.svc.Draft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSONBlob(http.StatusOK, b)
}

func (s *Server) handleRetry(c echo.Context) error {
	var corr entity.Corrections
	if err := c.Bind(&corr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ok, err := s.svc.Retry(c.Request().Context(), c.Param("id"), corr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, RetryResponse{OK: ok})
}

func (s *Server) handleExport(c echo.Context) error {
	id := c.Param("id")
	b, err := s.svc.ExportXLSX(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="evaluation-`+id+`.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, b)
}
