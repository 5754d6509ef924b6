package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "intel-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, srv := newTestClient(t)

	_, err := client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub := New(client, map[string]string{"source": "storefront-intel"})
	defer pub.Close()

	id, err := pub.Publish(ctx, "runs", map[string]int{"succeeded": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"succeeded":2}`, string(msgs[0].Data))
	require.Equal(t, "storefront-intel", msgs[0].Attributes["source"])
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil).Publish(context.Background(), "runs", 1)
	require.Error(t, err)

	client, _ := newTestClient(t)
	_, err = New(client, nil).Publish(context.Background(), "", 1)
	require.Error(t, err)
}
