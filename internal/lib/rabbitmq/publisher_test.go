package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRabbitMQContainer(ctx context.Context, t *testing.T) (testcontainers.Container, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER":   "guest",
			"RABBITMQ_DEFAULT_PASS":   "guest",
			"RABBITMQ_DEFAULT_VHOST":  "/",
			"RABBITMQ_LOOPBACK_USERS": "",
		},
		WaitingFor: wait.ForListeningPort("5672/tcp").
			WithStartupTimeout(2 * time.Minute),
	}

	rmqContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	cleanup := func() {
		if err := rmqContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	}

	return rmqContainer, cleanup
}

func getAmqpURI(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port()), nil
}

func TestConnectAndSetupChannel(t *testing.T) {
	ctx := context.Background()
	rmqContainer, cleanup := setupRabbitMQContainer(ctx, t)
	defer cleanup()

	amqpURI, err := getAmqpURI(ctx, rmqContainer)
	require.NoError(t, err)

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := SetupChannel(conn, GetNotificationQueues())
	require.NoError(t, err)
	defer ch.Close()

	// Все очереди уведомлений объявлены и доступны.
	for _, q := range GetNotificationQueues() {
		_, err := ch.QueueInspect(q.QueueName)
		assert.NoErrorf(t, err, "queue %s should exist", q.QueueName)
	}
}

func TestPublishMessage(t *testing.T) {
	ctx := context.Background()
	rmqContainer, cleanup := setupRabbitMQContainer(ctx, t)
	defer cleanup()

	amqpURI, err := getAmqpURI(ctx, rmqContainer)
	require.NoError(t, err)

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	ch, err := SetupChannel(conn, GetNotificationQueues())
	require.NoError(t, err)
	defer func() {
		if err := ch.Close(); err != nil {
			t.Errorf("failed to close channel: %v", err)
		}
	}()

	type orderEventMsg struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}

	t.Run("success publish and consume", func(t *testing.T) {
		msg := orderEventMsg{OrderID: "RB-20260101120000-AAAA", Status: "PAID"}

		err = PublishMessage(ch, NotificationExchange, RoutingOrderEvent, msg)
		require.NoError(t, err)

		deliveries, err := ch.Consume("bot.order_events", "test-consumer", true, false, false, false, nil)
		require.NoError(t, err)

		select {
		case d := <-deliveries:
			var got orderEventMsg
			err := json.Unmarshal(d.Body, &got)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
			assert.Equal(t, "application/json", d.ContentType)
		case <-time.After(5 * time.Second):
			t.Fatal("did not receive published message")
		}
	})

	t.Run("unmarshalable message", func(t *testing.T) {
		err := PublishMessage(ch, NotificationExchange, RoutingOrderEvent, make(chan int))
		require.Error(t, err)
	})
}
