package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"payflow.app/resolver/common/errs"
	"payflow.app/resolver/internal/http/handler"
	"payflow.app/resolver/internal/http/middleware"
	"payflow.app/resolver/internal/http/router"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/service"
)

var _ = Describe("IssueHandler", func() {
	var (
		engine *gin.Engine
		svc    *mockIssueService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		engine = gin.New()
		engine.Use(middleware.RequestID())
		svc = &mockIssueService{}
		router.IssueRouter(engine.Group("/api/v1/issues"), handler.NewIssueHandler(svc))
	})

	do := func(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			if s, ok := body.(string); ok {
				buf.WriteString(s)
			} else {
				Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	createBody := func() map[string]any {
		return map[string]any{
			"external_id":    "ext-1",
			"type":           "decline",
			"priority":       "high",
			"customer_id":    10,
			"transaction_id": 20,
			"details":        map[string]any{"decline_code": "expired_card"},
		}
	}

	Describe("POST /api/v1/issues", func() {
		It("returns 201 with the created issue", func() {
			var got service.CreateIssueParams
			svc.createFn = func(_ context.Context, p service.CreateIssueParams) (*model.Issue, error) {
				got = p
				return &model.Issue{ID: 9007199254740993, ExternalID: p.ExternalID, Status: model.IssueStatusPending}, nil
			}

			w := do(http.MethodPost, "/api/v1/issues", createBody(), map[string]string{
				middleware.RequestIDHeader:   "req-1",
				handler.IdempotencyKeyHeader: "key-h",
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.RequestID).To(Equal("req-1"))
			Expect(got.IdempotencyKey).To(Equal("key-h"))
			Expect(got.CustomerID).To(Equal(int64(10)))
			Expect(string(got.Details)).To(MatchJSON(`{"decline_code":"expired_card"}`))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("9007199254740993"))
			Expect(resp["status"]).To(Equal("pending"))
		})

		It("takes the idempotency key from the body when no header is sent", func() {
			body := createBody()
			body["idempotency_key"] = "key-b"
			svc.createFn = func(_ context.Context, p service.CreateIssueParams) (*model.Issue, error) {
				Expect(p.IdempotencyKey).To(Equal("key-b"))
				return &model.Issue{ID: 1}, nil
			}

			Expect(do(http.MethodPost, "/api/v1/issues", body, nil).Code).To(Equal(http.StatusCreated))
		})

		It("returns 409 with the existing issue id on a reused key", func() {
			svc.createFn = func(context.Context, service.CreateIssueParams) (*model.Issue, error) {
				return nil, &service.ConflictError{Key: "key-1", IssueID: 77}
			}

			w := do(http.MethodPost, "/api/v1/issues", createBody(), nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(w.Body.String()).To(ContainSubstring(`"issue_id":"77"`))
		})

		It("returns 400 when the service rejects the input", func() {
			svc.createFn = func(context.Context, service.CreateIssueParams) (*model.Issue, error) {
				return nil, errs.Validation("unknown issue type %q", "chargeback")
			}

			Expect(do(http.MethodPost, "/api/v1/issues", createBody(), nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 on a malformed body", func() {
			Expect(do(http.MethodPost, "/api/v1/issues", `{`, nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 when required fields are missing", func() {
			body := createBody()
			delete(body, "details")
			Expect(do(http.MethodPost, "/api/v1/issues", body, nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 without leaking internal errors", func() {
			svc.createFn = func(context.Context, service.CreateIssueParams) (*model.Issue, error) {
				return nil, errors.New("pq: connection refused")
			}

			w := do(http.MethodPost, "/api/v1/issues", createBody(), nil)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("pq:"))
		})
	})

	Describe("GET /api/v1/issues/:id", func() {
		It("returns the issue", func() {
			svc.getFn = func(_ context.Context, id int64) (*model.Issue, error) {
				return &model.Issue{ID: id, Status: model.IssueStatusAwaitingReview}, nil
			}

			w := do(http.MethodGet, "/api/v1/issues/42", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"status":"awaiting_review"`))
		})

		It("returns 404 for a missing issue", func() {
			svc.getFn = func(_ context.Context, id int64) (*model.Issue, error) {
				return nil, errs.NotFound("issue", id)
			}
			Expect(do(http.MethodGet, "/api/v1/issues/42", nil, nil).Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a malformed id", func() {
			Expect(do(http.MethodGet, "/api/v1/issues/abc", nil, nil).Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/issues/:id/history", func() {
		It("returns entries in order", func() {
			pending := model.IssueStatusPending
			svc.historyFn = func(context.Context, int64) ([]model.StatusHistoryEntry, error) {
				return []model.StatusHistoryEntry{
					{ID: 1, ToStatus: model.IssueStatusPending, ChangedBy: model.ActorSystem},
					{ID: 2, FromStatus: &pending, ToStatus: model.IssueStatusProcessing, ChangedBy: "worker-1"},
				}, nil
			}

			w := do(http.MethodGet, "/api/v1/issues/42/history", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp struct {
				IssueID string `json:"issue_id"`
				Entries []struct {
					FromStatus *string `json:"from_status"`
					ToStatus   string  `json:"to_status"`
				} `json:"entries"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.IssueID).To(Equal("42"))
			Expect(resp.Entries).To(HaveLen(2))
			Expect(resp.Entries[0].FromStatus).To(BeNil())
			Expect(*resp.Entries[1].FromStatus).To(Equal("pending"))
		})
	})

	Describe("POST /api/v1/issues/:id/review", func() {
		It("passes the verdict through", func() {
			svc.reviewFn = func(_ context.Context, p service.ReviewParams) (*model.Issue, error) {
				Expect(p.IssueID).To(Equal(int64(42)))
				Expect(p.ReviewerID).To(Equal("alice"))
				Expect(p.Action).To(Equal("modify"))
				Expect(p.Decision).To(Equal("accept_dispute"))
				return &model.Issue{ID: 42, Status: model.IssueStatusResolved}, nil
			}

			w := do(http.MethodPost, "/api/v1/issues/42/review", map[string]string{
				"reviewer_id": "alice",
				"action":      "modify",
				"decision":    "accept_dispute",
			}, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("returns 422 when the issue is not awaiting review", func() {
			svc.reviewFn = func(context.Context, service.ReviewParams) (*model.Issue, error) {
				return nil, errs.Unprocessable("issue 42 is pending, not awaiting_review")
			}

			w := do(http.MethodPost, "/api/v1/issues/42/review", map[string]string{
				"reviewer_id": "alice",
				"action":      "approve",
			}, nil)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("returns 400 without a reviewer", func() {
			w := do(http.MethodPost, "/api/v1/issues/42/review", map[string]string{"action": "approve"}, nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/v1/issues/:id/requeue", func() {
		It("returns 202", func() {
			svc.requeueFn = func(_ context.Context, id int64, requestID string) (bool, error) {
				Expect(requestID).NotTo(BeEmpty())
				return true, nil
			}

			w := do(http.MethodPost, "/api/v1/issues/42/requeue", nil, nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(w.Body.String()).To(ContainSubstring(`"requeued":true`))
		})
	})

	Describe("GET /api/v1/issues/stale", func() {
		It("parses the filters", func() {
			svc.listStaleFn = func(_ context.Context, status model.IssueStatus, olderThan time.Duration, limit int) ([]model.Issue, error) {
				Expect(status).To(Equal(model.IssueStatusProcessing))
				Expect(olderThan).To(Equal(30 * time.Minute))
				Expect(limit).To(Equal(5))
				return []model.Issue{{ID: 1}, {ID: 2}}, nil
			}

			w := do(http.MethodGet, "/api/v1/issues/stale?status=processing&older_than=30m&limit=5", nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp struct {
				Issues []map[string]any `json:"issues"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Issues).To(HaveLen(2))
		})

		It("rejects a bad duration", func() {
			Expect(do(http.MethodGet, "/api/v1/issues/stale?older_than=soon", nil, nil).Code).To(Equal(http.StatusBadRequest))
		})
	})
})
