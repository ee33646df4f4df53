package transporthttp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"algotrader/internal/logger"
	"algotrader/internal/types"
)

func (s *Server) handleObserverWS(c *gin.Context) {
	if err := s.hub.ServeWS(c.Writer, c.Request); err != nil {
		logger.Warnf("observer websocket upgrade failed: %v", err)
	}
}

var driverUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The driver connects from its own process, not a browser.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// driverConn adapts a websocket connection to the session's driver
// link. Stop delivers a single control frame; the driver is expected
// to wind down on its own after receiving it.
type driverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (d *driverConn) Stop(context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return d.conn.WriteJSON(types.Event{Name: "stop"})
}

func (d *driverConn) Close() error {
	var err error
	d.once.Do(func() { err = d.conn.Close() })
	return err
}

func (s *Server) handleDriverWS(c *gin.Context) {
	conn, err := driverUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("driver websocket upgrade failed: %v", err)
		return
	}
	link := &driverConn{conn: conn}
	s.ctrl.Session().Register(link)
	logger.Infof("backtest driver connected from %s", conn.RemoteAddr())

	// Inbound frames are ignored; the read loop only detects
	// disconnects.
	go func() {
		defer s.ctrl.Session().Drop(link)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logger.Infof("backtest driver disconnected: %v", err)
				return
			}
		}
	}()
}
