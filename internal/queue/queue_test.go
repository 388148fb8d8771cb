package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: "a", Body: []byte("1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b", Body: []byte("2")}))

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closes on cancel")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.DeadlineExceeded)
}

func TestSerialize(t *testing.T) {
	msg := Message{Type: "attendance.transition", Body: []byte(`{"note":"a|b"}`)}
	assert.Equal(t, msg, deserialize(serialize(msg)))
	assert.Equal(t, Message{Body: []byte("raw")}, deserialize("raw"))
}

func TestRedisQueuePublishConsume(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "")
	require.NoError(t, q.Publish(ctx, Message{Type: "a", Body: []byte(`{"n":1}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b", Body: []byte(`{"n":2}`)}))
	pending, err := mr.List("ojtrack:queue")
	require.NoError(t, err)
	assert.Equal(t, []string{`b|{"n":2}`, `a|{"n":1}`}, pending)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range []Message{{Type: "a", Body: []byte(`{"n":1}`)}, {Type: "b", Body: []byte(`{"n":2}`)}} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.False(t, mr.Exists("ojtrack:queue"), "consumed messages leave the list")

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closes on cancel")
	case <-time.After(7 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
