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

	"github.com/JakeFAU/numberwatch/internal/notify"
)

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "matches")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return topic, srv
}

func TestSinkPublishesJSON(t *testing.T) {
	topic, srv := newTestTopic(t)
	sink := New(topic)

	msg := notify.Message{
		UserID:    7,
		Email:     "a@example.com",
		SendEmail: true,
		Subject:   "Personal number found",
		Content:   "Your personal number 999/2020 found",
	}
	require.NoError(t, sink.Send(context.Background(), msg))

	published := srv.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, "true", published[0].Attributes["channel_email"])
	_, hasSMS := published[0].Attributes["channel_sms"]
	assert.False(t, hasSMS)

	var got notify.Message
	require.NoError(t, json.Unmarshal(published[0].Data, &got))
	assert.Equal(t, msg, got)
}

func TestSinkWithoutTopic(t *testing.T) {
	t.Parallel()

	assert.Error(t, New(nil).Send(context.Background(), notify.Message{}))
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
