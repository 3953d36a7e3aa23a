package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yanghanggit/ai-rpg-sub004/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// streamCommand is what clients may send over the socket.
type streamCommand struct {
	Command string `json:"command"`
}

// Stream handles GET /api/sessions/{id}/ws?since=N. It pushes every client
// message after since as JSON and accepts {"command": "..."} frames as
// player input.
func (a *App) Stream(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	s, err := a.sessions.Get(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go a.readCommands(ctx, cancel, conn, s)

	log := a.log.WithField("session", s.ID())
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		msgs, more := s.Messages(since)
		for _, m := range a.render(msgs) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				log.WithError(err).Debug("write message failed")
				return
			}
			since = m.Seq
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-more:
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

// readCommands forwards client frames to the session until the socket
// closes, then cancels the stream.
func (a *App) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, s *session.Session) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		var cmd streamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				a.log.WithError(err).WithField("session", s.ID()).Warn("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := a.sessions.SubmitInput(s.ID(), cmd.Command); err != nil {
			a.log.WithError(err).WithField("session", s.ID()).Info("websocket command rejected")
		}
	}
}
