package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is what viewers may send over the socket.
type clientMessage struct {
	Type     string        `json:"type"`
	DroneID  string        `json:"droneId"`
	Location *geo.Waypoint `json:"location"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsConn serialises writes to one websocket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("organization")
	if s.opts.ScopeByOrganization && org == "" {
		s.writeError(w, r, badRequest("organization query parameter is required"))
		return
	}
	if org != "" {
		if _, err := s.store.GetOrganization(r.Context(), org); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	log := logging.FromContext(r.Context()).With("organization", org)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(broadcast.WithOrganization(org))
	defer sub.Unsubscribe()
	log.Debug("viewer connected", "subscribers", s.hub.Len())

	ctx, cancel := context.WithCancel(logging.NewContext(r.Context(), log))
	defer cancel()
	c := &wsConn{conn: conn}
	go s.readLoop(ctx, cancel, c, org)
	s.writeLoop(ctx, c, sub)
	log.Debug("viewer disconnected")
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn, sub *broadcast.Subscription) {
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.close(websocket.CloseNormalClosure, "")
			return
		case e, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					log.Warn("viewer dropped for falling behind")
					c.close(websocket.ClosePolicyViolation, "subscriber too slow")
				} else {
					c.close(websocket.CloseGoingAway, "server shutting down")
				}
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Warn("event not encodable, skipped", "kind", e.Kind, "error", err)
				continue
			}
			if err := c.write(data); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, c *wsConn, org string) {
	defer cancel()
	log := logging.FromContext(ctx)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(c, fmt.Errorf("malformed message: %w", err))
			continue
		}
		if err := s.handleClientMessage(ctx, msg, org); err != nil {
			s.reply(c, err)
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, msg clientMessage, org string) error {
	if msg.Type != string(broadcast.KindDroneLocation) {
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}
	if msg.DroneID == "" || msg.Location == nil {
		return fmt.Errorf("droneId and location are required")
	}
	if org != "" {
		d, err := s.store.GetDrone(ctx, msg.DroneID)
		if err != nil {
			return err
		}
		if d.OrganizationID != org {
			return fmt.Errorf("drone %s belongs to another organization", d.ID)
		}
	}
	_, err := s.sim.RequestManualLocationUpdate(ctx, msg.DroneID, fleet.LocationOf(*msg.Location))
	return err
}

func (s *Server) reply(c *wsConn, err error) {
	_ = c.writeJSON(errorMessage{Type: "error", Message: err.Error()})
}
