package handler_test

import (
	"context"
	"time"

	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/service"
)

type mockIssueService struct {
	createFn    func(ctx context.Context, params service.CreateIssueParams) (*model.Issue, error)
	getFn       func(ctx context.Context, id int64) (*model.Issue, error)
	historyFn   func(ctx context.Context, id int64) ([]model.StatusHistoryEntry, error)
	reviewFn    func(ctx context.Context, params service.ReviewParams) (*model.Issue, error)
	requeueFn   func(ctx context.Context, id int64, requestID string) (bool, error)
	listStaleFn func(ctx context.Context, status model.IssueStatus, olderThan time.Duration, limit int) ([]model.Issue, error)
}

func (m *mockIssueService) Create(ctx context.Context, params service.CreateIssueParams) (*model.Issue, error) {
	if m.createFn != nil {
		return m.createFn(ctx, params)
	}
	return nil, nil
}

func (m *mockIssueService) Get(ctx context.Context, id int64) (*model.Issue, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIssueService) History(ctx context.Context, id int64) ([]model.StatusHistoryEntry, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIssueService) Review(ctx context.Context, params service.ReviewParams) (*model.Issue, error) {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, params)
	}
	return nil, nil
}

func (m *mockIssueService) Requeue(ctx context.Context, id int64, requestID string) (bool, error) {
	if m.requeueFn != nil {
		return m.requeueFn(ctx, id, requestID)
	}
	return false, nil
}

func (m *mockIssueService) ListStale(ctx context.Context, status model.IssueStatus, olderThan time.Duration, limit int) ([]model.Issue, error) {
	if m.listStaleFn != nil {
		return m.listStaleFn(ctx, status, olderThan, limit)
	}
	return nil, nil
}
