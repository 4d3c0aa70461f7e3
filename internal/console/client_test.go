package console

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
)

// feedServer sends events then echoes one client message back as an event.
func feedServer(t *testing.T, events ...broadcast.Event) (*httptest.Server, chan map[string]any) {
	t.Helper()
	received := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, e := range events {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClientRunDeliversEvents(t *testing.T) {
	srv, received := feedServer(t,
		broadcast.Event{Kind: broadcast.KindConnected, Message: "hi"},
		broadcast.DroneLocationUpdate(fleet.Drone{ID: "d1", Name: "hawk"}, broadcast.SourceSimulation),
	)
	ctx := context.Background()
	c, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := c.SendLocation("d1", fleet.Location{Lat: 1, Lng: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got []broadcast.Event
	if err := c.Run(ctx, func(e broadcast.Event) { got = append(got, e) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 2 || got[1].Drone == nil || got[1].Drone.Name != "hawk" {
		t.Fatalf("unexpected events %+v", got)
	}
	select {
	case msg := <-received:
		if msg["type"] != "drone-location-update" || msg["droneId"] != "d1" {
			t.Fatalf("unexpected client message %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("server did not receive location")
	}
}

func TestClientRunStopsOnContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(broadcast.Event) {}) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestForwardSendsDisconnect(t *testing.T) {
	srv, _ := feedServer(t, broadcast.Event{Kind: broadcast.KindConnected})
	c, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p := &fakeProgram{}
	forward(context.Background(), c, p)
	if len(p.msgs) != 2 {
		t.Fatalf("expected event and disconnect, got %d msgs", len(p.msgs))
	}
	if _, ok := p.msgs[0].(eventMsg); !ok {
		t.Fatalf("expected eventMsg, got %T", p.msgs[0])
	}
	if _, ok := p.msgs[1].(disconnectedMsg); !ok {
		t.Fatalf("expected disconnectedMsg, got %T", p.msgs[1])
	}
}

func TestWatchPlain(t *testing.T) {
	srv, _ := feedServer(t,
		broadcast.Event{Kind: broadcast.KindConnected, Message: "connected to fleet updates"},
		broadcast.MissionLaunched(fleet.Mission{ID: "m1", Name: "survey"}),
	)
	var buf bytes.Buffer
	if err := Watch(context.Background(), Options{URL: wsURL(srv), Out: &buf}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "connected to fleet updates") || !strings.Contains(out, "mission survey launched") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := Dial(context.Background(), wsURL(srv)); err == nil {
		t.Fatalf("expected dial error")
	}
}
