package messenger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_PublishSubscribe(t *testing.T) {
	m := NewInProcess()
	ch, cancel := m.Subscribe("queue_update")
	defer cancel()

	err := m.Publish(context.Background(), "queue_update", map[string]string{"document_id": "abc"})
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, "queue_update", event.Channel)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "abc", payload["document_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestInProcess_SubscriberOnlyReceivesItsChannel(t *testing.T) {
	m := NewInProcess()
	queueCh, cancelQueue := m.Subscribe("queue_update")
	defer cancelQueue()
	usersCh, cancelUsers := m.Subscribe("users_updated")
	defer cancelUsers()

	require.NoError(t, m.Publish(context.Background(), "users_updated", map[string]string{"org_id": "org1"}))

	select {
	case event := <-usersCh:
		assert.Equal(t, "users_updated", event.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case <-queueCh:
		t.Fatal("queue subscriber should not have received a users_updated event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInProcess_CancelStopsDelivery(t *testing.T) {
	m := NewInProcess()
	ch, cancel := m.Subscribe("queue_update")
	cancel()

	require.NoError(t, m.Publish(context.Background(), "queue_update", map[string]string{}))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestInProcess_Published_RecordsAllEvents(t *testing.T) {
	m := NewInProcess()
	require.NoError(t, m.Publish(context.Background(), "queue_update", map[string]string{"document_id": "1"}))
	require.NoError(t, m.Publish(context.Background(), "servers_updated", map[string]string{"server_id": "2"}))

	published := m.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "queue_update", published[0].Channel)
	assert.Equal(t, "servers_updated", published[1].Channel)
}

func TestInProcess_MultipleSubscribersOnSameChannel(t *testing.T) {
	m := NewInProcess()
	ch1, cancel1 := m.Subscribe("queue_update")
	defer cancel1()
	ch2, cancel2 := m.Subscribe("queue_update")
	defer cancel2()

	require.NoError(t, m.Publish(context.Background(), "queue_update", map[string]string{}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on one of the subscribers")
		}
	}
}
