package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"UsefulTimer/core/audio"
	"UsefulTimer/core/playback"
	"UsefulTimer/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func fakeClient(hub *Hub, timerID string, buffer int) *Client {
	return &Client{Hub: hub, Send: make(chan []byte, buffer), ID: timerID + "-client", timerID: timerID}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoutesByTimer(t *testing.T) {
	t.Parallel()
	hub := startHub(t)

	a := fakeClient(hub, "a", 8)
	b := fakeClient(hub, "b", 8)
	all := fakeClient(hub, "", 8)
	for _, c := range []*Client{a, b, all} {
		hub.Register(c)
	}
	require.Equal(t, 3, hub.ClientCount())
	assert.Equal(t, 1, hub.TimerClientCount("a"))

	require.NoError(t, hub.BroadcastWSMessage(&WSMessage{Type: MsgTypeFire, TimerID: "a"}))
	assert.Equal(t, "a", receive(t, a).TimerID)
	assert.Equal(t, "a", receive(t, all).TimerID)
	assertNothing(t, b)

	hub.StoreChanged("UsefulTimer_Timers")
	for _, c := range []*Client{a, b, all} {
		msg := receive(t, c)
		assert.Equal(t, MsgTypeStoreChanged, msg.Type)
		assert.JSONEq(t, `{"key":"UsefulTimer_Timers"}`, string(msg.Data))
	}
}

func TestHub_DropsSlowClients(t *testing.T) {
	t.Parallel()
	hub := startHub(t)

	slow := fakeClient(hub, "a", 0)
	hub.Register(slow)
	hub.Broadcast("a", []byte(`{}`))

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-slow.Send
	assert.False(t, ok)
}

func TestHub_UnregisterAndStop(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	go hub.Run()

	c := fakeClient(hub, "a", 1)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)
	assert.Zero(t, hub.ClientCount())

	other := fakeClient(hub, "b", 1)
	hub.Register(other)
	hub.Stop()
	hub.Stop()
	_, ok := <-other.Send
	assert.False(t, ok, "stop closes every client")

	late := fakeClient(hub, "c", 1)
	hub.Register(late)
	_, ok = <-late.Send
	assert.False(t, ok)
	hub.Broadcast("c", []byte(`{}`))
}

func TestHub_Resubscribe(t *testing.T) {
	t.Parallel()
	hub := startHub(t)

	c := fakeClient(hub, "a", 8)
	hub.Register(c)
	hub.Resubscribe(c, "b")
	assert.Equal(t, "b", c.TimerID())

	hub.Broadcast("a", []byte(`{"type":"fire"}`))
	assertNothing(t, c)
	hub.Broadcast("b", []byte(`{"type":"fire","timerId":"b"}`))
	assert.Equal(t, "b", receive(t, c).TimerID)
}

func TestHub_ObserveAndPlayer(t *testing.T) {
	t.Parallel()
	hub := startHub(t)
	c := fakeClient(hub, "t1", 8)
	hub.Register(c)

	fire := playback.Fire{PointID: "p1", Name: "bell", Offset: 5, Tags: []string{"bell"}}
	hub.Observe(playback.Event{Type: playback.EventState, TimerID: "t1", State: model.StateRunning, Previous: model.StateIdle})
	msg := receive(t, c)
	assert.Equal(t, MsgTypeState, msg.Type)
	var event playback.Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, model.StateRunning, event.State)

	player := NewPlayer(hub, func(id string) string { return "/api/audio/" + id })
	cue := playback.Cue{TimerID: "t1", Fire: fire, Audio: &audio.AudioHandle{AssetID: "a1", ContentType: "audio/wav", Payload: []byte("RIFF")}}
	require.NoError(t, player.Play(context.Background(), cue))

	msg = receive(t, c)
	assert.Equal(t, MsgTypeCue, msg.Type)
	var data CueData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "/api/audio/a1", data.AudioURL)
	assert.Equal(t, "bell", data.Fire.Name)
	assert.NotContains(t, string(msg.Data), "RIFF", "payload is fetched separately")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, player.Play(ctx, cue), context.Canceled)
}

func TestPlayer_StalledHubHonorsContext(t *testing.T) {
	t.Parallel()
	// 不启动 Run，广播队列填满后发送会一直阻塞
	hub := NewHub()
	t.Cleanup(hub.Stop)
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast("t1", []byte("{}"))
	}

	player := NewPlayer(hub, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, playback.Cue{TimerID: "t1", Fire: playback.Fire{Name: "bell"}}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Play blocked past its context")
	}
}

func TestServeWS(t *testing.T) {
	t.Parallel()
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?timer=t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.TimerClientCount("t1") == 1 }, time.Second, 5*time.Millisecond)

	readMsg := func() WSMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readMsg().Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, MsgTypeError, readMsg().Type)

	hub.Observe(playback.Event{Type: playback.EventFire, TimerID: "t1", Fire: &playback.Fire{Name: "bell"}})
	msg := readMsg()
	assert.Equal(t, MsgTypeFire, msg.Type)
	assert.Equal(t, "t1", msg.TimerID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
