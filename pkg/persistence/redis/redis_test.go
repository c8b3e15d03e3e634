package redis_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	flowredis "github.com/dukex/processflow/pkg/persistence/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisContainer testcontainers.Container

func startRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor: wait.ForAll(
					wait.ForListeningPort("6379/tcp"),
					wait.ForLog("Ready to accept connections"),
				).WithDeadline(30 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err, "Failed to start redis container")
	}

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)

	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := fmt.Sprintf("redis://%s:%s/0", host, port.Port())

	options, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(options)
	require.NoError(t, client.FlushDB(ctx).Err())
	require.NoError(t, client.Close())

	return redisURL
}

func newPersistence(t *testing.T) *flowredis.Persistence {
	t.Helper()

	redisURL := startRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := flowredis.NewPersistence(context.Background(), logger, redisURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, p.Close(context.Background()))
	})

	return p
}

func TestFlowRepository(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.FlowRepository {
		t.Helper()

		return newPersistence(t).FlowRepository()
	})
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := newPersistence(t)

	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestNewPersistence_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := flowredis.NewPersistence(context.Background(), logger, "http://localhost:6379")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}
