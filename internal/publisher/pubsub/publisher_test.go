package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "articles")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSendsJSON(t *testing.T) {
	pub, srv := newTestPublisher(t)

	id, err := pub.Publish(context.Background(), "articles", map[string]string{"url": "https://example.com/a"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "https://example.com/a", got["url"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublishReusesTopicHandle(t *testing.T) {
	pub, srv := newTestPublisher(t)
	for range 3 {
		_, err := pub.Publish(context.Background(), "articles", "x")
		require.NoError(t, err)
	}
	assert.Len(t, pub.topics, 1)
	assert.Len(t, srv.Messages(), 3)
}

func TestPublishErrors(t *testing.T) {
	pub, _ := newTestPublisher(t)

	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "articles", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(context.Background(), "missing-topic", "x")
	require.ErrorContains(t, err, "publish message")

	_, err = (&Publisher{}).Publish(context.Background(), "articles", "x")
	require.Error(t, err)
}
