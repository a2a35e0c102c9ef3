package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	pb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/illmade-knight/go-pubsub-harness/pkg/payload"
	"github.com/illmade-knight/go-pubsub-harness/pkg/publish"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const projectID = "test-project"

// setupPublisherTest creates an in-process broker with the given topic -> subscriptions layout.
func setupPublisherTest(t *testing.T, topology map[string][]string) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for topicID, subs := range topology {
		topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
		_, err = srv.GServer.CreateTopic(ctx, &pb.Topic{Name: topicName})
		require.NoError(t, err)
		for _, subID := range subs {
			_, err = srv.GServer.CreateSubscription(ctx, &pb.Subscription{
				Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID),
				Topic: topicName,
			})
			require.NoError(t, err)
		}
	}
	return client, srv
}

func newTestPublisher(t *testing.T, client *pubsub.Client, pacing time.Duration) *publish.Publisher {
	t.Helper()
	cfg := publish.NewPublisherDefaults()
	cfg.Pacing = pacing
	cfg.PublishTimeout = 5 * time.Second
	cfg.DefaultAttributes = map[string]string{"origin": "go-harness", "type": "test-element"}

	p, err := publish.NewPublisher(cfg, client, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(stopCtx)
	})
	return p
}

// receiveAll collects messages from a subscription until the timeout elapses.
func receiveAll(t *testing.T, client *pubsub.Client, subID string, timeout time.Duration) []*pubsub.Message {
	t.Helper()
	var mu sync.Mutex
	var msgs []*pubsub.Message

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := client.Subscriber(subID).Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Subscription receive error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return msgs
}

func TestNewPublisher_NilClient(t *testing.T) {
	p, err := publish.NewPublisher(nil, nil, zerolog.Nop())
	require.ErrorIs(t, err, publish.ErrClientRequired)
	assert.Nil(t, p)
}

func TestPublish_ReturnsMessageIDAndDeliversOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := setupPublisherTest(t, map[string][]string{"api-req": {"sub-api-req"}})
	p := newTestPublisher(t, client, 0)

	doc := map[string]any{"endpoint": "/x", "params": map[string]any{"a": "1"}}
	msgID, err := p.Publish(ctx, "api-req", doc, map[string]string{"type": "override"})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	published := srv.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, msgID, published[0].ID)

	var got map[string]any
	require.NoError(t, json.Unmarshal(published[0].Data, &got))
	assert.Equal(t, doc, got)

	msgs := receiveAll(t, client, "sub-api-req", time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgID, msgs[0].ID)
	assert.Equal(t, "go-harness", msgs[0].Attributes["origin"])
	assert.Equal(t, "override", msgs[0].Attributes["type"])
	assert.NotEmpty(t, msgs[0].Attributes[publish.CorrelationIDAttribute])
}

func TestPublish_FanOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	subs := []string{"sub-1", "sub-2", "sub-3"}
	client, _ := setupPublisherTest(t, map[string][]string{"api-res": subs})
	p := newTestPublisher(t, client, 0)

	msgID, err := p.Publish(ctx, "api-res", payload.APIResponse{Endpoint: "/x", Body: "{}"}, nil)
	require.NoError(t, err)

	for _, subID := range subs {
		msgs := receiveAll(t, client, subID, 500*time.Millisecond)
		require.Len(t, msgs, 1, "subscription %s", subID)
		assert.Equal(t, msgID, msgs[0].ID)
	}
}

func TestPublish_CallerCorrelationIDIsKept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := setupPublisherTest(t, map[string][]string{"api-req": nil})
	p := newTestPublisher(t, client, 0)

	_, err := p.Publish(ctx, "api-req", "hello", map[string]string{publish.CorrelationIDAttribute: "fixed"})
	require.NoError(t, err)

	published := srv.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, "fixed", published[0].Attributes[publish.CorrelationIDAttribute])
}

func TestPublish_SerializationFailureSendsNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := setupPublisherTest(t, map[string][]string{"api-req": {"sub-api-req"}})
	p := newTestPublisher(t, client, 0)

	msgID, err := p.Publish(ctx, "api-req", map[string]any{"bad": make(chan int)}, nil)
	require.ErrorIs(t, err, payload.ErrSerialization)
	assert.Empty(t, msgID)
	assert.Empty(t, srv.Messages())
}

func TestPublish_TopicNotFound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, _ := setupPublisherTest(t, nil)
	p := newTestPublisher(t, client, 0)

	msgID, err := p.Publish(ctx, "missing", map[string]string{"a": "b"}, nil)
	require.ErrorIs(t, err, publish.ErrPublish)
	assert.Empty(t, msgID)

	_, err = p.Publish(ctx, "", "x", nil)
	assert.ErrorIs(t, err, publish.ErrTopicRequired)
}

func TestPublishBatch_ContinuesPastFailuresWithPacing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := setupPublisherTest(t, map[string][]string{"api-req": {"sub-api-req"}})
	pacing := 50 * time.Millisecond
	p := newTestPublisher(t, client, pacing)

	batches := []publish.Batch{
		{Topic: "api-req", Payloads: []any{
			payload.APIRequest{Endpoint: "/a"},
			map[string]any{"bad": func() {}},
			payload.APIRequest{Endpoint: "/b"},
		}},
		{Topic: "missing", Payloads: []any{"lost"}},
	}

	start := time.Now()
	report := p.PublishBatch(ctx, batches)
	elapsed := time.Since(start)

	require.Len(t, report.Results, 4)
	assert.Equal(t, 2, report.Published())
	assert.Equal(t, 2, report.Failed())
	assert.NoError(t, report.Results[0].Err)
	assert.ErrorIs(t, report.Results[1].Err, payload.ErrSerialization)
	assert.NoError(t, report.Results[2].Err)
	assert.Equal(t, "missing", report.Results[3].Topic)
	assert.ErrorIs(t, report.Results[3].Err, publish.ErrPublish)

	// Three pauses separate four sends.
	assert.GreaterOrEqual(t, elapsed, 3*pacing)
	assert.Len(t, srv.Messages(), 2)
}

func TestPublishBatch_StopsOnCancel(t *testing.T) {
	client, srv := setupPublisherTest(t, map[string][]string{"api-req": nil})
	p := newTestPublisher(t, client, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	report := p.PublishBatch(ctx, []publish.Batch{{Topic: "api-req", Payloads: []any{"one", "two", "three"}}})
	require.Len(t, report.Results, 3)
	assert.NoError(t, report.Results[0].Err)
	assert.ErrorIs(t, report.Results[1].Err, context.Canceled)
	assert.ErrorIs(t, report.Results[2].Err, context.Canceled)
	assert.Len(t, srv.Messages(), 1)
}
