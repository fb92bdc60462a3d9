package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The renderer runs on the same installation host; origins vary.
		return true
	},
}

// wsSender owns the single renderer client. Last writer wins: a newcomer
// evicts the incumbent. With no client connected, messages drop silently.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSender() *wsSender { return &wsSender{} }

// setClient installs a new client, closing the previous one.
func (s *wsSender) setClient(conn *websocket.Conn) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()
	if prev != nil {
		log.Println("events: evicting previous renderer client")
		_ = prev.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "new client connected"))
		_ = prev.Close()
	}
	log.Println("events: renderer client connected")
}

// removeClient detaches conn if it is still the current client.
func (s *wsSender) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		log.Println("events: renderer client disconnected")
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// send marshals and pushes one envelope; drops when no client is connected.
func (s *wsSender) send(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("events: marshal %s failed: %v", env.Type, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		log.Printf("events: no renderer client, dropping %s seq=%d", env.Type, env.Seq)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("events: write %s failed: %v", env.Type, err)
	}
}

// sendRaw writes an arbitrary message under the same writer lock.
func (s *wsSender) sendRaw(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// HandleWS upgrades the request and serves the single-client push channel.
// The read loop only exists to answer optional hello frames and to notice
// disconnects.
func (o *Orchestrator) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: ws upgrade error: %v", err)
		return
	}
	o.sender.setClient(conn)
	defer o.sender.removeClient(conn)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) != nil {
			log.Printf("events: invalid client frame: %.100s", data)
			continue
		}
		if msg.Type == "hello" {
			o.sender.sendRaw(conn, HelloAck{Type: TypeHelloAck, Server: "reflective-resonance", Version: "1.0.0"})
		}
	}
}
