package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLists struct {
	lists map[string][]string
}

func newFakeLists() *fakeLists { return &fakeLists{lists: map[string][]string{}} }

func (f *fakeLists) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		switch b := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(b))
		case string:
			f.lists[key] = append(f.lists[key], b)
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeLists) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	for _, k := range keys {
		if len(f.lists[k]) > 0 {
			v := f.lists[k][0]
			f.lists[k] = f.lists[k][1:]
			cmd.SetVal([]string{k, v})
			return cmd
		}
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func TestEnqueueDequeueArchive(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newFakeLists(), 0, time.Second, nil)
	require.NoError(t, q.EnqueueArchive(ctx, "s1"))

	job, key, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueArchives, key)
	assert.Equal(t, JobTypeSessionArchive, job.Type)
	var p ArchivePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "s1", p.SessionID)

	job, _, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue times out")
}

func TestRetryMovesToDLQ(t *testing.T) {
	ctx := context.Background()
	lists := newFakeLists()
	q := NewQueue(lists, 2, time.Second, nil)
	job := &Job{ID: "j1", Type: JobTypeSessionArchive}

	require.NoError(t, q.Retry(ctx, job))
	assert.Len(t, lists.lists[QueueArchives], 1)
	require.NoError(t, q.Retry(ctx, job))
	assert.Len(t, lists.lists[QueueDLQ], 1)
	assert.Equal(t, 2, job.Attempt)
}
