package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xhad/jobimport/pkg/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a frame sent to stream clients. Type is "stream" for partial
// output, "response" for the full answer and "error" on failure.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// handlePirateStream reads pirate-speak requests from the socket and
// streams each translation back before reading the next one.
func (s *Server) handlePirateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req llm.PirateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if sendMessage(conn, "error", "invalid request: "+err.Error()) != nil {
				return
			}
			continue
		}

		out, err := s.pirate.PirateSpeakStream(ctx, req, func(ctx context.Context, chunk []byte) error {
			return sendMessage(conn, "stream", string(chunk))
		})
		if err != nil {
			s.log.Warn("pirate stream failed", "error", err)
			if sendMessage(conn, "error", err.Error()) != nil {
				return
			}
			continue
		}
		if err := sendMessage(conn, "response", out); err != nil {
			return
		}
	}
}

func sendMessage(conn *websocket.Conn, msgType, content string) error {
	return conn.WriteJSON(Message{Type: msgType, Content: content})
}
