package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list external judges pop jobs from.
const DefaultQueueKey = "judge:queue"

// JudgeQueue pushes judge jobs onto a Redis list. Judges BLPOP from the
// same key, so jobs are delivered in submission order.
type JudgeQueue struct {
	rdb *redis.Client
	key string
}

func NewJudgeQueue(rdb *redis.Client, key string) *JudgeQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &JudgeQueue{rdb: rdb, key: key}
}

func (q *JudgeQueue) Enqueue(ctx context.Context, job JudgeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal judge job: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push judge job to %s: %w", q.key, err)
	}
	return nil
}

// Depth reports the number of jobs waiting in the queue.
func (q *JudgeQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
