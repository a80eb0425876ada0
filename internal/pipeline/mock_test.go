package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/ingest"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/anthropic"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) QueryPostings(ctx context.Context, q store.PostingQuery) ([]model.JobPosting, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.JobPosting), args.Error(1)
}

func (m *mockStore) UpsertPostings(ctx context.Context, postings []model.JobPosting) (int64, error) {
	args := m.Called(ctx, postings)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) RecordRunPostings(ctx context.Context, runID string, postings []model.JobPosting) error {
	args := m.Called(ctx, runID, postings)
	return args.Error(0)
}

func (m *mockStore) ListRunPostings(ctx context.Context, runID string) ([]store.RunPostingRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.RunPostingRecord), args.Error(1)
}

func (m *mockStore) CreateRun(ctx context.Context, markets []string, terms string) (*model.Run, error) {
	args := m.Called(ctx, markets, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) CreateStage(ctx context.Context, runID, name, market string) (*model.RunStage, error) {
	args := m.Called(ctx, runID, name, market)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunStage), args.Error(1)
}

func (m *mockStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	args := m.Called(ctx, stageID, result)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockSeenCache struct {
	mock.Mock
}

func (m *mockSeenCache) FilterDelivered(ctx context.Context, market string, keys []string) (map[string]bool, error) {
	args := m.Called(ctx, market, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *mockSeenCache) MarkDelivered(ctx context.Context, market string, keys []string) error {
	args := m.Called(ctx, market, keys)
	return args.Error(0)
}

// fakeProvider is a hand-rolled ingest.Provider: the pipeline tests run
// a real Ingestor and only stub the wire. The mutex matters because
// markets search concurrently.
type fakeProvider struct {
	name         string
	postings     []model.RawPosting
	err          error
	failLocation string

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, location, _ string, _, _ int) ([]model.RawPosting, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.failLocation != "" && location == f.failLocation {
		return nil, fmt.Errorf("provider outage in %s", location)
	}
	return f.postings, nil
}

func (f *fakeProvider) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAIClient answers every CreateMessage with the same classification
// payload. Tests keep posting counts at or under the direct-call
// threshold so the batch path stays cold.
type fakeAIClient struct {
	payload string
	err     error
}

func (f *fakeAIClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.payload}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (f *fakeAIClient) CreateBatch(_ context.Context, _ anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	return nil, fmt.Errorf("unexpected CreateBatch call")
}

func (f *fakeAIClient) GetBatch(_ context.Context, _ string) (*anthropic.BatchResponse, error) {
	return nil, fmt.Errorf("unexpected GetBatch call")
}

func (f *fakeAIClient) GetBatchResults(_ context.Context, _ string) (anthropic.BatchResultIterator, error) {
	return nil, fmt.Errorf("unexpected GetBatchResults call")
}

var (
	_ store.Store      = (*mockStore)(nil)
	_ SeenCache        = (*mockSeenCache)(nil)
	_ ingest.Provider  = (*fakeProvider)(nil)
	_ anthropic.Client = (*fakeAIClient)(nil)
)
