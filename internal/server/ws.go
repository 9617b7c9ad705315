package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/session"
)

const (
	// writeWait is the timeout for writing to a WebSocket.
	writeWait = 10 * time.Second

	// pongWait is the timeout for pong responses.
	pongWait = 60 * time.Second

	// pingPeriod is how often to send ping frames.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps one client frame.
	maxMessageSize = 64 * 1024
)

// clientFrame is a command sent by a console page.
type clientFrame struct {
	Type    string   `json:"type"` // send, focus, chat, reset
	Message string   `json:"message,omitempty"`
	Models  []string `json:"models,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// wsClient is one console connection. It owns a focused-chat session for
// its lifetime.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	session *session.Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, 256),
		session: s.store.Create(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	log.Debug().Str("session", client.session.ID).Int("clients", count).Msg("websocket client connected")

	go client.writePump()
	s.readPump(client)

	cancel()
	s.clientsMu.Lock()
	delete(s.clients, client)
	s.clientsMu.Unlock()
	s.store.Delete(client.session.ID)
	log.Debug().Str("session", client.session.ID).Msg("websocket client disconnected")
}

// emit queues an event for the client. It gives up once the connection is gone.
func (c *wsClient) emit(ev dispatch.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *wsClient) notice(text string) {
	c.emit(dispatch.Event{Kind: dispatch.EventNotice, Text: text})
}

// writePump handles sending messages to the WebSocket client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump handles commands from the client until the connection closes.
func (s *Server) readPump(c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.notice("malformed frame")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		s.handleFrame(c, frame)
	}
}

// handleFrame runs one client command. Sends run in their own goroutine so
// the client can keep issuing commands while replies stream in.
func (s *Server) handleFrame(c *wsClient, frame clientFrame) {
	sink := dispatch.EventFunc(c.emit)

	switch frame.Type {
	case "send":
		req := s.fanOutRequest(frame.Message, frame.Models)
		if err := req.Validate(); err != nil {
			c.notice(err.Error())
			return
		}
		go func() {
			outcomes, _ := s.coordinator.FanOut(c.ctx, req, sink)
			c.emit(dispatch.Event{Kind: dispatch.EventDone, Text: summarize(outcomes)})
		}()

	case "focus":
		if err := c.session.SelectModel(frame.Model); err != nil {
			c.notice(err.Error())
			return
		}
		c.emit(dispatch.Event{Kind: dispatch.EventNotice, Model: frame.Model, Text: "focused chat ready"})

	case "chat":
		go func() {
			out, err := c.session.Send(c.ctx, frame.Message, sink)
			if err != nil {
				c.notice(err.Error())
				return
			}
			c.emit(dispatch.Event{Kind: dispatch.EventDone, Model: out.ModelID, Text: string(out.State)})
		}()

	case "reset":
		if err := c.session.Reset(); err != nil {
			c.notice(err.Error())
			return
		}
		c.notice("conversation cleared")

	default:
		c.notice("unknown command " + frame.Type)
	}
}
