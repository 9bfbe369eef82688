package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "site-events")
	require.NoError(t, err)

	pub := New(client, "site-events")
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "", map[string]string{"status": "INDEXED"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"status":"INDEXED"}`, string(msgs[0].Data))
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublisherUnknownTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _ := newTestClient(t)
	pub := New(client, "")
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(ctx, "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(ctx, "missing", "x")
	require.Error(t, err)
}

func TestPublisherRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", "x")
	require.Error(t, err)
	require.NoError(t, (&Publisher{}).Close())
}

func TestDialRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "t")
	require.ErrorContains(t, err, "project id")
}
