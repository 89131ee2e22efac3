package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/dispatch"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type collector struct {
	mu   sync.Mutex
	seen []uuid.UUID
	done chan uuid.UUID
}

func newCollector() *collector {
	return &collector{done: make(chan uuid.UUID, 100)}
}

func (c *collector) handle(ctx context.Context, jobID uuid.UUID) {
	c.mu.Lock()
	c.seen = append(c.seen, jobID)
	c.mu.Unlock()
	c.done <- jobID
}

func waitFor(t *testing.T, ch <-chan uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	var got []uuid.UUID
	for len(got) < n {
		select {
		case id := <-ch:
			got = append(got, id)
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out after %d of %d jobs", len(got), n)
		}
	}
	return got
}

func TestPool_RunsEnqueuedJobs(t *testing.T) {
	c := newCollector()
	p := dispatch.NewPool(c.handle, 2, 8)
	p.Start(context.Background())

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, p.Enqueue(context.Background(), &models.GenerationJob{ID: id}))
	}

	got := waitFor(t, c.done, len(ids))
	assert.ElementsMatch(t, ids, got)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := dispatch.NewPool(func(ctx context.Context, jobID uuid.UUID) {
		started <- struct{}{}
		<-release
	}, 1, 1)
	p.Start(context.Background())

	require.NoError(t, p.Submit(uuid.New()))
	<-started
	require.NoError(t, p.Submit(uuid.New()))
	assert.Equal(t, 1, p.Pending())

	assert.ErrorIs(t, p.Submit(uuid.New()), dispatch.ErrQueueFull)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_RecoversFromPanic(t *testing.T) {
	c := newCollector()
	first := true
	var mu sync.Mutex
	p := dispatch.NewPool(func(ctx context.Context, jobID uuid.UUID) {
		mu.Lock()
		shouldPanic := first
		first = false
		mu.Unlock()
		if shouldPanic {
			panic("boom")
		}
		c.handle(ctx, jobID)
	}, 1, 4)
	p.Start(context.Background())

	require.NoError(t, p.Submit(uuid.New()))
	second := uuid.New()
	require.NoError(t, p.Submit(second))

	got := waitFor(t, c.done, 1)
	assert.Equal(t, second, got[0])
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownDrainsAndRejects(t *testing.T) {
	c := newCollector()
	p := dispatch.NewPool(c.handle, 1, 4)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(uuid.New()))
	}
	p.Start(context.Background())

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Len(t, c.seen, 3)
	assert.ErrorIs(t, p.Submit(uuid.New()), dispatch.ErrPoolClosed)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := dispatch.NewPool(func(ctx context.Context, jobID uuid.UUID) { <-release }, 1, 1)
	p.Start(context.Background())
	require.NoError(t, p.Submit(uuid.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func setupRabbit(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)
	return "amqp://guest:guest@" + host + ":" + port.Port() + "/"
}

func TestRabbitMQ_PublishConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbit(t)
	ctx := context.Background()

	conn, err := dispatch.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := newCollector()
	consumer := dispatch.NewConsumer(conn, "paperforge.test", 2, c.handle)
	require.NoError(t, consumer.Start(ctx))
	t.Cleanup(consumer.Close)

	pub := dispatch.NewPublisher(conn, "paperforge.test")
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, pub.Enqueue(ctx, &models.GenerationJob{ID: id}))
	}

	got := waitFor(t, c.done, len(ids))
	assert.ElementsMatch(t, ids, got)
}
