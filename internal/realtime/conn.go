package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/services"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound command frames.
	maxFrameSize = 16 << 10
	// sendBuffer is the per-connection outbound queue. A client that
	// falls this far behind is evicted by the hub.
	sendBuffer = 32
)

// Inbound command names.
const (
	cmdJoinRoom    = "joinNegotiationRoom"
	cmdLeaveRoom   = "leaveNegotiationRoom"
	cmdSendMessage = "negotiation:message"
	cmdAcceptDeal  = "accept-deal"
)

// command is the inbound frame envelope.
type command struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// roomData carries the negotiation reference for join/leave/accept.
type roomData struct {
	NegotiationID string `json:"negotiation_id"`
	Message       string `json:"message"`
}

// messageData is the negotiation:message command body.
type messageData struct {
	NegotiationID string           `json:"negotiation_id"`
	Message       string           `json:"message"`
	Offer         *decimal.Decimal `json:"offer"`
}

// errorEvent is sent back to the client when a command fails.
type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Conn adapts one websocket client to the hub. The read pump executes
// inbound commands against the negotiation service; the write pump drains
// the send queue. Both pumps exit when the socket drops, and LeaveAll
// detaches the connection from every group it joined.
type Conn struct {
	ws           *websocket.Conn
	hub          *Hub
	negotiations *services.NegotiationService
	userID       string
	send         chan Event
}

// Server upgrades HTTP requests into hub-attached connections.
type Server struct {
	Hub          *Hub
	Negotiations *services.NegotiationService
	upgrader     websocket.Upgrader
}

// NewServer constructs a websocket Server over the given hub and service.
// checkOrigin decides whether a handshake's Origin is acceptable; nil
// allows all origins.
func NewServer(hub *Hub, negotiations *services.NegotiationService, checkOrigin func(*http.Request) bool) *Server {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		Hub:          hub,
		Negotiations: negotiations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handle upgrades the request and runs the connection's pumps until the
// client goes away. userID is the authenticated caller.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("realtime: websocket upgrade failed")
		return
	}
	c := &Conn{
		ws:           ws,
		hub:          s.Hub,
		negotiations: s.Negotiations,
		userID:       userID,
		send:         make(chan Event, sendBuffer),
	}
	go c.writePump()
	c.readPump(r.Context())
}

// Send implements Subscriber. It never blocks: a full queue reports
// failure and the hub evicts the connection.
func (c *Conn) Send(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// readPump consumes inbound commands until the socket closes.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.LeaveAll(c)
		close(c.send)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).
					Msg("realtime: connection closed")
			}
			return
		}
		c.dispatch(ctx, cmd)
	}
}

// dispatch executes one inbound command. Command failures are reported to
// the issuing client only; they never tear down the connection.
func (c *Conn) dispatch(ctx context.Context, cmd command) {
	switch cmd.Event {
	case cmdJoinRoom:
		var d roomData
		if err := json.Unmarshal(cmd.Data, &d); err != nil || d.NegotiationID == "" {
			c.reportError("bad_request", "negotiation_id is required")
			return
		}
		n, err := c.negotiations.Get(ctx, d.NegotiationID)
		if err != nil {
			c.reportServiceError(err)
			return
		}
		if n.BuyerID != c.userID && n.VendorID != c.userID {
			c.reportServiceError(services.ErrForbidden)
			return
		}
		c.hub.Join(d.NegotiationID, c)

	case cmdLeaveRoom:
		var d roomData
		if err := json.Unmarshal(cmd.Data, &d); err != nil || d.NegotiationID == "" {
			c.reportError("bad_request", "negotiation_id is required")
			return
		}
		c.hub.Leave(d.NegotiationID, c)

	case cmdSendMessage:
		var d messageData
		if err := json.Unmarshal(cmd.Data, &d); err != nil || d.NegotiationID == "" {
			c.reportError("bad_request", "negotiation_id is required")
			return
		}
		if _, _, err := c.negotiations.PostMessage(ctx, d.NegotiationID, c.userID, d.Message, d.Offer); err != nil {
			c.reportServiceError(err)
		}

	case cmdAcceptDeal:
		var d roomData
		if err := json.Unmarshal(cmd.Data, &d); err != nil || d.NegotiationID == "" {
			c.reportError("bad_request", "negotiation_id is required")
			return
		}
		if _, err := c.negotiations.Accept(ctx, d.NegotiationID, c.userID, d.Message); err != nil &&
			!errors.Is(err, services.ErrNegotiationClosed) {
			c.reportServiceError(err)
		}

	default:
		c.reportError("unknown_event", "unsupported event: "+cmd.Event)
	}
}

// reportServiceError maps service sentinels onto client-facing error
// codes.
func (c *Conn) reportServiceError(err error) {
	switch {
	case errors.Is(err, services.ErrNegotiationNotFound):
		c.reportError("not_found", "negotiation not found")
	case errors.Is(err, services.ErrForbidden):
		c.reportError("forbidden", "not a participant in this negotiation")
	case errors.Is(err, services.ErrNegotiationClosed):
		c.reportError("negotiation_closed", "negotiation is no longer active")
	case errors.Is(err, services.ErrEmptyMessage):
		c.reportError("bad_request", "message or offer is required")
	case errors.Is(err, services.ErrInvalidPrice):
		c.reportError("bad_request", "offer must be a positive amount")
	default:
		c.reportError("internal", "could not process the request")
	}
}

// reportError queues an error event for this client only.
func (c *Conn) reportError(code, message string) {
	payload, _ := json.Marshal(errorEvent{Type: "error", Code: code, Message: message})
	c.Send(Event{Type: "error", Payload: payload})
}

// writePump drains the send queue and keeps the connection alive with
// pings. It exits when the queue closes or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
