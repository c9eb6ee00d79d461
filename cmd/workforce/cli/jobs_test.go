package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workforce/jobs"
)

type stubEnqueuer struct {
	tasks  []*asynq.Task
	closed bool
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error {
	s.closed = true
	return nil
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func (stubInspector) Close() error { return nil }

func TestTriggerDedup(t *testing.T) {
	enq := &stubEnqueuer{}
	c := NewJobsCLIWith(enq, stubInspector{})

	info, err := c.Trigger(context.Background(), jobs.TaskImportsDedup, 7)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskImportsDedup, info.Type)
	require.Len(t, enq.tasks, 1)
	require.JSONEq(t, `{"actor_id":7}`, string(enq.tasks[0].Payload()))

	_, err = c.Trigger(context.Background(), jobs.TaskImportsDedup, 0)
	require.Error(t, err)
	_, err = c.Trigger(context.Background(), "report:rebuild", 7)
	require.ErrorContains(t, err, "unsupported job")

	require.NoError(t, c.Close())
	require.True(t, enq.closed)
}

func TestInspectQueues(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueNotifications: {Queue: jobs.QueueNotifications, Pending: 4, Retry: 1},
	}})
	stats, err := c.InspectQueues(context.Background())
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueNotifications, Pending: 4, Retry: 1},
		{Queue: jobs.QueueDefault},
	}, stats)

	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, stats))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[1], "notifications"))

	failing := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{err: errors.New("redis down")})
	_, err = failing.InspectQueues(context.Background())
	require.ErrorContains(t, err, "redis down")
}
