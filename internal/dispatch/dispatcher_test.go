package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/logger"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []rabbitmq.Message
	failAt   int
}

func (p *recordingPublisher) PublishWithRetry(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt > 0 && len(p.messages)+1 == p.failAt {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func makeJobs(n int) []domain.CanonicalJob {
	jobs := make([]domain.CanonicalJob, n)
	for i := range jobs {
		jobs[i] = domain.CanonicalJob{ExternalID: fmt.Sprintf("job-%d", i), Title: "Job"}
	}
	return jobs
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		total int
		size  int
		want  []int
	}{
		{name: "250 by 100", total: 250, size: 100, want: []int{100, 100, 50}},
		{name: "exact multiple", total: 200, size: 100, want: []int{100, 100}},
		{name: "smaller than one batch", total: 7, size: 100, want: []int{7}},
		{name: "empty", total: 0, size: 100, want: []int{}},
		{name: "non-positive size uses default", total: 150, size: 0, want: []int{100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := Batches(makeJobs(tt.total), tt.size)

			sizes := make([]int, 0, len(batches))
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tt.want, sizes)
		})
	}
}

func TestBatches_PreservesOrder(t *testing.T) {
	jobs := makeJobs(25)
	batches := Batches(jobs, 10)

	var flattened []domain.CanonicalJob
	for _, b := range batches {
		flattened = append(flattened, b...)
	}
	assert.Equal(t, jobs, flattened)
}

func TestDispatch(t *testing.T) {
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(publisher, logger.NewDefault().Logger)

	handles, err := dispatcher.Dispatch(context.Background(), makeJobs(250), "jobicy.com", "run-1", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1:0", "run-1:1", "run-1:2"}, handles)
	require.Len(t, publisher.messages, 3)

	for i, msg := range publisher.messages {
		var item domain.BatchWorkItem
		require.NoError(t, json.Unmarshal(msg.Body, &item))

		assert.Equal(t, "run-1", item.RunID)
		assert.Equal(t, "jobicy.com", item.SourceKey)
		assert.Equal(t, i, item.BatchIndex)
		assert.Equal(t, 3, item.BatchCount)
		assert.Equal(t, fmt.Sprintf("job-%d", i*100), item.Jobs[0].ExternalID)
	}

	var last domain.BatchWorkItem
	require.NoError(t, json.Unmarshal(publisher.messages[2].Body, &last))
	assert.Len(t, last.Jobs, 50)
}

func TestDispatch_EmptyIsNoop(t *testing.T) {
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(publisher, logger.NewDefault().Logger)

	handles, err := dispatcher.Dispatch(context.Background(), nil, "jobicy.com", "run-1", 100)
	require.NoError(t, err)
	assert.Empty(t, handles)
	assert.Empty(t, publisher.messages)
}

func TestDispatch_PublishFailure(t *testing.T) {
	publisher := &recordingPublisher{failAt: 2}
	dispatcher := NewDispatcher(publisher, logger.NewDefault().Logger)

	handles, err := dispatcher.Dispatch(context.Background(), makeJobs(30), "jobicy.com", "run-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish batch 2 of 3")
	assert.Equal(t, []string{"run-1:0"}, handles)
}
