package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/common/id"
	"payflow.app/resolver/internal/http/dto"
	"payflow.app/resolver/internal/http/middleware"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/service"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type IssueHandler struct {
	issueService service.IssueService
}

func NewIssueHandler(issueService service.IssueService) *IssueHandler {
	return &IssueHandler{issueService: issueService}
}

func (h *IssueHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The header wins over the body field.
	key := req.IdempotencyKey
	if header := c.GetHeader(IdempotencyKeyHeader); header != "" {
		key = header
	}

	issue, err := h.issueService.Create(ctx, service.CreateIssueParams{
		ExternalID:     req.ExternalID,
		IdempotencyKey: key,
		Type:           req.Type,
		Priority:       req.Priority,
		CustomerID:     req.CustomerID,
		TransactionID:  req.TransactionID,
		Details:        req.Details,
		RequestID:      middleware.GetRequestID(c),
	})
	if err != nil {
		var conflict *service.ConflictError
		if errors.As(err, &conflict) {
			slog.InfoContext(ctx, "duplicate issue submission", "idempotency_key", conflict.Key)
			c.JSON(http.StatusConflict, gin.H{
				"error":    "idempotency key already used",
				"issue_id": strconv.FormatInt(conflict.IssueID, 10),
			})
			return
		}
		writeError(c, err, "failed to create issue")
		return
	}

	c.JSON(http.StatusCreated, dto.ToIssueResponse(issue))
}

func (h *IssueHandler) Get(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	issue, err := h.issueService.Get(c.Request.Context(), issueID)
	if err != nil {
		writeError(c, err, "failed to load issue")
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueResponse(issue))
}

func (h *IssueHandler) History(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	entries, err := h.issueService.History(c.Request.Context(), issueID)
	if err != nil {
		writeError(c, err, "failed to load history")
		return
	}

	c.JSON(http.StatusOK, dto.ToHistoryResponse(issueID, entries))
}

func (h *IssueHandler) Review(c *gin.Context) {
	ctx := c.Request.Context()
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	var req dto.ReviewIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue, err := h.issueService.Review(ctx, service.ReviewParams{
		IssueID:    issueID,
		ReviewerID: req.ReviewerID,
		Action:     req.Action,
		Decision:   req.Decision,
		Notes:      req.Notes,
		RequestID:  middleware.GetRequestID(c),
	})
	if err != nil {
		writeError(c, err, "failed to record review")
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueResponse(issue))
}

func (h *IssueHandler) Requeue(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	requeued, err := h.issueService.Requeue(c.Request.Context(), issueID, middleware.GetRequestID(c))
	if err != nil {
		writeError(c, err, "failed to requeue issue")
		return
	}

	c.JSON(http.StatusAccepted, dto.RequeueResponse{IssueID: issueID, Requeued: requeued})
}

// Stale lists issues stuck in one status, e.g. pending issues whose job was
// dead-lettered.
func (h *IssueHandler) Stale(c *gin.Context) {
	status := model.IssueStatus(c.DefaultQuery("status", string(model.IssueStatusPending)))
	olderThan, err := time.ParseDuration(c.DefaultQuery("older_than", "1h"))
	if err != nil || olderThan < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a duration such as 30m"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	issues, err := h.issueService.ListStale(c.Request.Context(), status, olderThan, limit)
	if err != nil {
		writeError(c, err, "failed to list stale issues")
		return
	}

	resp := dto.StaleIssuesResponse{Issues: make([]dto.IssueResponse, len(issues))}
	for i := range issues {
		resp.Issues[i] = *dto.ToIssueResponse(&issues[i])
	}
	c.JSON(http.StatusOK, resp)
}

func issueIDParam(c *gin.Context) (int64, bool) {
	issueID, err := id.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return issueID, true
}

// writeError maps the error taxonomy onto status codes. Unclassified errors
// are logged and hidden behind msg.
func writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrUnprocessable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
