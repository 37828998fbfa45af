package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// startContainer 启动容器并返回映射后的 host:port
func startContainer(ctx context.Context, t *testing.T, image, port string) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{port},
		WaitingFor:   wait.ForExposedPort(),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	// 只暴露一个端口，Endpoint 即该端口的 host:port
	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return container, endpoint
}

func testReport() *Report {
	r := &Report{
		RunID:          "run-1",
		Topic:          "my-topic",
		Sent:           10,
		ConnectionIDs:  []string{"conn-1", "conn-2"},
		ProcessGroupID: "pg-1",
		StartedAt:      time.Now().Add(-time.Second),
	}
	r.Finish(nil)
	return r
}

func TestIntegration_RedisSinkPublish(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	ctx := context.Background()

	container, addr := startContainer(ctx, t, "redis:7-alpine", "6379/tcp")
	defer container.Terminate(ctx)

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	sub := client.Subscribe(ctx, "streamflow:runs")
	defer sub.Close()
	// 等待订阅生效，避免错过消息
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(addr, "streamflow:runs", time.Hour)
	defer sink.Close(ctx)

	r := testReport()
	require.NoError(t, sink.Publish(ctx, r))

	select {
	case msg := <-sub.Channel():
		var got Report
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, 10, got.Sent)
		assert.Equal(t, StatusSucceeded, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("report was not published on the channel")
	}

	last, err := client.Get(ctx, lastReportKey).Result()
	require.NoError(t, err)
	assert.JSONEq(t, mustJSON(t, r), last)

	ttl, err := client.TTL(ctx, lastReportKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestIntegration_MongoSinkPublish(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	ctx := context.Background()

	container, addr := startContainer(ctx, t, "mongo:7", "27017/tcp")
	defer container.Terminate(ctx)

	sink, err := NewMongoSink(ctx, "mongodb://"+addr, "streamflow", "runs")
	require.NoError(t, err)
	defer sink.Close(ctx)

	r := testReport()
	require.True(t, r.ID.IsZero())
	require.NoError(t, sink.Publish(ctx, r))
	require.False(t, r.ID.IsZero(), "_id is filled before insert")

	var got Report
	require.NoError(t, sink.collection.FindOne(ctx, bson.M{"_id": r.ID}).Decode(&got))
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 10, got.Sent)
	assert.Equal(t, []string{"conn-1", "conn-2"}, got.ConnectionIDs)
	assert.Equal(t, StatusSucceeded, got.Status)

	// 已有 _id 时保留原值
	id := primitive.NewObjectID()
	r2 := testReport()
	r2.ID = id
	require.NoError(t, sink.Publish(ctx, r2))
	assert.Equal(t, id, r2.ID)

	n, err := sink.collection.CountDocuments(ctx, bson.M{"runId": "run-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
