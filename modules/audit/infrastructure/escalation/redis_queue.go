// Package escalation parks audit entries the store could not accept so an
// operator can redrive them later.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "payroll:audit:escalated"

// RedisQueue is a FIFO of JSON encoded entries in a single Redis list.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

var _ ports.Escalator = (*RedisQueue)(nil)

func (q *RedisQueue) Escalate(ctx context.Context, e types.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("escalation: encode %s: %w", e.ID, err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("escalation: push %s: %w", e.ID, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (types.Entry, bool, error) {
	raw, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Entry{}, false, nil
	}
	if err != nil {
		return types.Entry{}, false, fmt.Errorf("escalation: pop: %w", err)
	}
	var e types.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return types.Entry{}, false, fmt.Errorf("escalation: decode: %w", err)
	}
	return e, true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("escalation: len: %w", err)
	}
	return n, nil
}
