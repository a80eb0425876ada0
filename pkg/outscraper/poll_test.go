package outscraper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements Client for testing poll functions.
type mockClient struct {
	submitFunc     func(ctx context.Context, req SearchRequest) (*SubmitResponse, error)
	getRequestFunc func(ctx context.Context, id string) (*RequestStatus, error)
}

func (m *mockClient) SubmitJobSearch(ctx context.Context, req SearchRequest) (*SubmitResponse, error) {
	if m.submitFunc == nil {
		return &SubmitResponse{ID: "req-1", Status: "Pending"}, nil
	}
	return m.submitFunc(ctx, req)
}

func (m *mockClient) GetRequest(ctx context.Context, id string) (*RequestStatus, error) {
	return m.getRequestFunc(ctx, id)
}

func TestPollRequest_CompletesImmediately(t *testing.T) {
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			return &RequestStatus{
				ID:     id,
				Status: "Success",
				Data: [][]JobResult{{
					{Title: "CDL-A Driver", CompanyName: "Acme Freight", Location: "Dallas, TX"},
				}},
			}, nil
		},
	}

	resp, err := PollRequest(context.Background(), mock, "req-123",
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "Success", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Len(t, resp.Data[0], 1)
}

func TestPollRequest_CompletesAfterRetries(t *testing.T) {
	var calls atomic.Int32
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			n := calls.Add(1)
			if n < 3 {
				return &RequestStatus{ID: id, Status: "Pending"}, nil
			}
			return &RequestStatus{
				ID:     id,
				Status: "Success",
				Data: [][]JobResult{{
					{Title: "CDL-A Driver", CompanyName: "Acme Freight"},
					{Title: "Local Delivery Driver", CompanyName: "Metro Hauling"},
				}},
			}, nil
		},
	}

	resp, err := PollRequest(context.Background(), mock, "req-456",
		WithPollInterval(10*time.Millisecond),
		WithPollCap(20*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "Success", resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollRequest_Timeout(t *testing.T) {
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			return &RequestStatus{ID: id, Status: "In progress"}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := PollRequest(ctx, mock, "req-timeout",
		WithPollInterval(10*time.Millisecond),
		WithPollCap(20*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollRequest_Failed(t *testing.T) {
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			return &RequestStatus{ID: id, Status: "Error"}, nil
		},
	}

	_, err := PollRequest(context.Background(), mock, "req-fail",
		WithPollInterval(10*time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestPollRequest_ErrorPropagation(t *testing.T) {
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			return nil, &APIError{StatusCode: 500, Body: "server error"}
		},
	}

	_, err := PollRequest(context.Background(), mock, "req-err",
		WithPollInterval(10*time.Millisecond),
	)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestPollRequest_DefaultTimeout(t *testing.T) {
	// Verify that PollRequest applies a default timeout when ctx has none.
	// We override the default to a short duration to avoid a long test.
	mock := &mockClient{
		getRequestFunc: func(ctx context.Context, id string) (*RequestStatus, error) {
			return &RequestStatus{ID: id, Status: "Pending"}, nil
		},
	}

	_, err := PollRequest(context.Background(), mock, "req-default-timeout",
		WithPollInterval(5*time.Millisecond),
		WithPollCap(10*time.Millisecond),
		WithPollTimeout(50*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
