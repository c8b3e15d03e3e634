// Package redis provides a flow store on top of Redis, for deployments that already run
// Redis for the collaboration channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "processflow:"
	nextIDKey = keyPrefix + "flows:next_id"
	indexKey  = keyPrefix + "flows:index"

	// maxWatchRetries bounds how often a write is retried after its WATCH was tripped.
	// A retry re-reads the flow, so a real concurrent write surfaces as a version conflict.
	maxWatchRetries = 3
)

// Persistence stores each flow as one JSON document under processflow:flow:<id>.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewPersistence connects to the Redis instance named by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Persistence{client: client, logger: logger}, nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository { return p }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func flowKey(id int64) string {
	return keyPrefix + "flow:" + strconv.FormatInt(id, 10)
}

func (p *Persistence) Create(ctx context.Context, flow *models.Flow) error {
	id, err := p.client.Incr(ctx, nextIDKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate flow id: %w", err)
	}

	flow.ID = id
	persistence.PrepareCreate(flow, time.Now().UTC())

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, flowKey(id), data, 0)
		pipe.SAdd(ctx, indexKey, id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store flow: %w", err)
	}

	return nil
}

func (p *Persistence) GetByID(ctx context.Context, id int64) (*models.Flow, error) {
	flow, err := get(ctx, p.client, id)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (p *Persistence) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	members, err := p.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read flow index: %w", err)
	}

	flows := make([]*models.Flow, 0, len(members))

	if len(members) > 0 {
		keys := make([]string, 0, len(members))

		for _, member := range members {
			keys = append(keys, keyPrefix+"flow:"+member)
		}

		values, err := p.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read flows: %w", err)
		}

		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				// Deleted between SMEMBERS and MGET.
				continue
			}

			var flow models.Flow

			err = json.Unmarshal([]byte(raw), &flow)
			if err != nil {
				return nil, fmt.Errorf("failed to decode flow %s: %w", members[i], err)
			}

			flows = append(flows, &flow)
		}
	}

	return persistence.Paginate(flows, opts)
}

func (p *Persistence) Put(
	ctx context.Context,
	id int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
) (*models.Flow, error) {
	return p.swap(ctx, "Put", id, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextPut(current, nodes, edges, expectedVersion, time.Now().UTC())
	})
}

func (p *Persistence) SetApproval(
	ctx context.Context,
	id int64,
	change persistence.ApprovalChange,
	expectedVersion int64,
) (*models.Flow, error) {
	return p.swap(ctx, "SetApproval", id, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextApproval(current, change, expectedVersion)
	})
}

func (p *Persistence) Delete(ctx context.Context, id int64) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, flowKey(id))
		pipe.SRem(ctx, indexKey, id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	if deleted.Val() == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

// swap performs a WATCH/MULTI/EXEC compare-and-set on the flow document.
func (p *Persistence) swap(
	ctx context.Context,
	op string,
	id int64,
	next func(current *models.Flow) (*models.Flow, error),
) (*models.Flow, error) {
	key := flowKey(id)

	var updated *models.Flow

	txf := func(tx *redis.Tx) error {
		current, err := get(ctx, tx, id)
		if err != nil {
			return err
		}

		updated, err = next(current)
		if err != nil {
			return err
		}

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal flow: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})

		return err
	}

	for range maxWatchRetries {
		err := p.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			p.logger.DebugContext(ctx, "Flow changed during write, retrying", "flow_id", id, "op", op)

			continue
		}

		if err != nil {
			return nil, persistence.NewFlowError(op, id, err)
		}

		return updated, nil
	}

	return nil, persistence.NewFlowError(op, id, redis.TxFailedErr)
}

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, client getter, id int64) (*models.Flow, error) {
	raw, err := client.Get(ctx, flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrFlowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read flow: %w", err)
	}

	var flow models.Flow

	err = json.Unmarshal(raw, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to decode flow: %w", err)
	}

	return &flow, nil
}
