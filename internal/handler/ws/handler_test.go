package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/config"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	const writers = 8
	const perWriter = 25

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conn := &wsConn{Conn: raw}
		defer conn.Close()

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					if err := conn.writeJSON(outgoingMessage{Type: "result"}); err != nil {
						return
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := conn.ping(); err != nil {
					return
				}
			}
		}()
		wg.Wait()

		conn.writeJSON(outgoingMessage{Type: "done"})
		<-done
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()
	defer close(done)

	received := 0
	for {
		var msg outgoingMessage
		if err := client.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed after %d messages: %v", received, err)
		}
		if msg.Type == "done" {
			break
		}
		received++
	}
	if received != writers*perWriter {
		t.Fatalf("expected %d messages, got %d", writers*perWriter, received)
	}
}

func TestPingMessageAnswersPong(t *testing.T) {
	aiSvc, err := aiService.NewService(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	pipeline := chatService.NewService(aiSvc, nil, nil, nil, zerolog.Nop())

	r := chi.NewRouter()
	New(aiSvc, pipeline, nil, zerolog.Nop()).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	var connected outgoingMessage
	if err := client.ReadJSON(&connected); err != nil {
		t.Fatalf("failed to read greeting: %v", err)
	}

	if err := client.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	var reply outgoingMessage
	if err := client.ReadJSON(&reply); err != nil {
		t.Fatalf("failed to read pong: %v", err)
	}
	data, ok := reply.Data.(map[string]any)
	if !ok || data["type"] != "pong" {
		t.Fatalf("expected pong reply, got %+v", reply)
	}
}
