package api

import (
	"net/http"
	"time"

	"mixerline/internal/auth"
	"mixerline/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	feedBuffer   = 256
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is token-protected, not origin-protected
	},
}

// feedConn streams hub events to one websocket client.
type feedConn struct {
	conn    *websocket.Conn
	events  <-chan events.Event
	cancel  func()
	mixerID uint
}

// serveEvents upgrades the request and streams events, optionally for one mixer.
func (s *Server) serveEvents(c *gin.Context) {
	if _, err := auth.Require(c.Request.Context(), "events.subscribe", auth.RoleViewer); err != nil {
		fail(c, err)
		return
	}
	mixerID, ok := uintQuery(c, "mixer")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Warnw("Failed to upgrade connection", "error", err)
		return
	}

	id, ch, cancel := s.engine.Hub.Subscribe(feedBuffer)
	zap.S().Debugw("Event subscriber connected", "subscriber", id, "mixer", mixerID)

	fc := &feedConn{conn: conn, events: ch, cancel: cancel, mixerID: mixerID}
	go fc.writePump()
	go fc.readPump()
}

// readPump drains client frames so control messages are handled.
// It unsubscribes when the client goes away, which ends writePump.
func (f *feedConn) readPump() {
	defer func() {
		f.cancel()
		f.conn.Close()
	}()

	f.conn.SetReadLimit(maxFrameSize)
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.S().Infow("WebSocket closed", "error", err)
			}
			return
		}
	}
}

func (f *feedConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		f.cancel()
		f.conn.Close()
	}()

	for {
		select {
		case e, ok := <-f.events:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				f.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if f.mixerID != 0 && e.MixerID != f.mixerID {
				continue
			}
			if err := f.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
