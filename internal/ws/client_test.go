package ws

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func TestWritePump_DrainsQueuedPayloadsBeforeClose(t *testing.T) {
	t.Parallel()

	received := make(chan string, sendBuffer)
	peerClosed := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error = %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(peerClosed)
				return
			}
			received <- string(msg)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(newTestRegistry(), conn, 7, log)

	if err := client.Deliver([]byte("first")); err != nil {
		t.Fatalf("Deliver error = %v", err)
	}
	if err := client.Deliver([]byte("second")); err != nil {
		t.Fatalf("Deliver error = %v", err)
	}
	client.Close()

	go client.WritePump()

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("payload = %q; want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for payload %q", want)
		}
	}
	select {
	case <-peerClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw the close frame")
	}
}

func TestDeliver_AfterClose_ReportsSlowConsumer(t *testing.T) {
	t.Parallel()

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(newTestRegistry(), nil, 7, log)
	client.Close()

	if err := client.Deliver([]byte("late")); err != ErrSlowConsumer {
		t.Errorf("Deliver after Close = %v; want ErrSlowConsumer", err)
	}
}
