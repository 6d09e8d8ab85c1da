package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	alarms "battmon-cloud/internal/alarms/domain"
	telemetry "battmon-cloud/internal/telemetry/domain"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fakeClient(buffer int) *Client {
	return &Client{send: make(chan []byte, buffer)}
}

func TestHubRoomBroadcast(t *testing.T) {
	hub := NewHub(discardLogger())
	inRoom := fakeClient(4)
	outOfRoom := fakeClient(4)
	hub.Register(inRoom)
	hub.Register(outOfRoom)
	hub.Join(3, inRoom)

	hub.BroadcastTo(3, []byte("room"))

	select {
	case msg := <-inRoom.send:
		if string(msg) != "room" {
			t.Fatalf("unexpected message %q", msg)
		}
	default:
		t.Fatal("expected room member to receive message")
	}
	select {
	case msg := <-outOfRoom.send:
		t.Fatalf("non-member received %q", msg)
	default:
	}
}

func TestHubGlobalBroadcastReachesEveryone(t *testing.T) {
	hub := NewHub(discardLogger())
	a := fakeClient(4)
	b := fakeClient(4)
	hub.Register(a)
	hub.Register(b)
	hub.Join(7, b)

	hub.BroadcastGlobal([]byte("all"))

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if string(msg) != "all" {
				t.Fatalf("unexpected message %q", msg)
			}
		default:
			t.Fatal("expected global delivery")
		}
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(discardLogger())
	c := fakeClient(4)
	hub.Register(c)
	hub.Join(5, c)
	hub.Leave(5, c)

	hub.BroadcastTo(5, []byte("late"))
	select {
	case msg := <-c.send:
		t.Fatalf("left client received %q", msg)
	default:
	}
	if hub.RoomSize(5) != 0 {
		t.Fatalf("expected empty room, got %d", hub.RoomSize(5))
	}
}

func TestHubSlowClientSkipped(t *testing.T) {
	hub := NewHub(discardLogger())
	slow := fakeClient(1)
	hub.Register(slow)
	hub.Join(2, slow)

	hub.BroadcastTo(2, []byte("one"))
	hub.BroadcastTo(2, []byte("two"))

	if got := len(slow.send); got != 1 {
		t.Fatalf("expected second message dropped, buffered %d", got)
	}
}

func TestHubUnregisterRemovesAllRooms(t *testing.T) {
	hub := NewHub(discardLogger())
	c := fakeClient(4)
	hub.Register(c)
	hub.Join(1, c)
	hub.Join(2, c)

	hub.Unregister(c)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", hub.ClientCount())
	}
	hub.BroadcastTo(1, []byte("x"))
	hub.BroadcastGlobal([]byte("y"))
	if len(c.send) != 0 {
		t.Fatal("unregistered client still receiving")
	}
}

func TestDispatcherRoutesEvents(t *testing.T) {
	hub := NewHub(discardLogger())
	member := fakeClient(8)
	bystander := fakeClient(8)
	hub.Register(member)
	hub.Register(bystander)
	hub.Join(3, member)

	dispatcher := NewDispatcher(hub, 16, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Start(ctx)

	dispatcher.ChannelUpdated(telemetry.ChannelReading{Equipment: 3, ChannelNumber: 1, Voltage: 3.7})
	dispatcher.AlarmRaised(alarms.Alarm{ID: 9, EquipmentID: 3, Message: "overtemp", Level: alarms.LevelWarning})

	wantEvents := func(c *Client, want []string) {
		t.Helper()
		var got []string
		deadline := time.After(2 * time.Second)
		for len(got) < len(want) {
			select {
			case msg := <-c.send:
				var env Envelope
				if err := json.Unmarshal(msg, &env); err != nil {
					t.Fatalf("decode envelope: %v", err)
				}
				got = append(got, env.Event)
			case <-deadline:
				t.Fatalf("timeout, want %v got %v", want, got)
			}
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("event order: want %v got %v", want, got)
			}
		}
	}

	wantEvents(member, []string{"channelUpdated", "alarmRaised", "alarmRaised"})
	wantEvents(bystander, []string{"alarmRaised"})
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	hub := NewHub(discardLogger())
	dispatcher := NewDispatcher(hub, 1, discardLogger())
	// no worker running, the buffer fills after one event
	dispatcher.ChannelUpdated(telemetry.ChannelReading{Equipment: 1, ChannelNumber: 1})
	dispatcher.ChannelUpdated(telemetry.ChannelReading{Equipment: 1, ChannelNumber: 2})
	if got := len(dispatcher.events); got != 1 {
		t.Fatalf("expected overflow drop, buffered %d", got)
	}
}

func TestServeWSJoinAndReceive(t *testing.T) {
	hub := NewHub(discardLogger())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ControlMessage{Action: "join", EquipmentID: 12}); err != nil {
		t.Fatalf("send join: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for hub.RoomSize(12) == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for join")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	hub.BroadcastTo(12, []byte(`{"event":"channelUpdated"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "channelUpdated") {
		t.Fatalf("unexpected frame %q", msg)
	}
}
