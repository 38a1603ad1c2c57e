// Package gateway exposes the push channel and the per-client view sessions
// over websocket. Each connection owns one view session; closing the socket
// tears down every view, membership and listener the client accumulated.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/moderation"
	"github.com/openagora/agora/internal/room"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/internal/view"
	"github.com/openagora/agora/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	identityHeader = "X-Agora-Identity"
)

// Inbound frame kinds
const (
	frameViewOpen      = "view:open"
	frameViewClose     = "view:close"
	frameDeleteRequest = "delete:request"
	frameMembership    = "membership"
)

// Outbound frame kinds
const (
	frameAck        = "ack"
	frameViewUpdate = "view:update"
	frameViewError  = "view:error"
	frameRoomDenied = "room:denied"
)

// Frame is the websocket envelope in both directions.
type Frame struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ackPayload struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Gateway upgrades client connections and binds each one to a view session.
type Gateway struct {
	bus     *bus.Bus
	adapter *store.Adapter
	cfg     view.Config
	logger  *zap.Logger

	upgrader websocket.Upgrader
}

// New creates a gateway.
func New(b *bus.Bus, adapter *store.Adapter, cfg view.Config) *Gateway {
	return &Gateway{
		bus:     b,
		adapter: adapter,
		cfg:     cfg,
		logger:  logging.GetLogger().With(zap.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetupRoutes registers the websocket endpoint.
func (g *Gateway) SetupRoutes(engine *gin.Engine) {
	engine.GET("/ws", g.serve)
}

func (g *Gateway) serve(c *gin.Context) {
	identity := c.GetHeader(identityHeader)
	if identity == "" {
		identity = c.Query("identity")
	}
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "client identity required"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &connection{
		gateway:  g,
		ws:       ws,
		identity: identity,
		session:  view.NewSession(g.bus, g.adapter, identity, g.cfg),
		send:     make(chan Frame, 64),
		done:     make(chan struct{}),
		views:    make(map[string]openView),
		logger:   g.logger.With(zap.String("identity", identity)),
	}
	conn.session.OnRoomDenied(func(communityID string) {
		conn.sendFrame(Frame{
			Kind:    frameRoomDenied,
			Payload: mustMarshal(gin.H{"communityId": communityID}),
		})
	})

	go conn.writePump()
	conn.readPump()
}

type openView interface {
	Close()
}

type connection struct {
	gateway  *Gateway
	ws       *websocket.Conn
	identity string
	session  *view.Session
	send     chan Frame
	logger   *zap.Logger

	mu        sync.Mutex
	views     map[string]openView
	closeOnce sync.Once
	done      chan struct{}
}

func (c *connection) readPump() {
	defer c.close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		c.handle(frame)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) sendFrame(frame Frame) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

func (c *connection) ack(requestID string, data interface{}, err error) {
	payload := ackPayload{OK: err == nil, Data: data}
	if err != nil {
		payload.Error = err.Error()
	}
	c.sendFrame(Frame{Kind: frameAck, RequestID: requestID, Payload: mustMarshal(payload)})
}

func (c *connection) handle(frame Frame) {
	switch frame.Kind {
	case frameViewOpen:
		// Opening a view can block on a join ack round-trip; it must not
		// stall the read pump, same as the delete protocol below.
		go c.handleViewOpen(frame)
	case frameViewClose:
		c.handleViewClose(frame)
	case frameDeleteRequest:
		c.handleDeleteRequest(frame)
	case frameMembership:
		c.handleMembership(frame)
	default:
		c.ack(frame.RequestID, nil, fmt.Errorf("unknown frame kind: %s", frame.Kind))
	}
}

func (c *connection) handleViewOpen(frame Frame) {
	var p struct {
		ViewType    string `json:"viewType"`
		CommunityID string `json:"communityId"`
		PostID      string `json:"postId"`
		Sort        string `json:"sort"`
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.CommunityID == "" {
		c.ack(frame.RequestID, nil, errors.New("viewType and communityId are required"))
		return
	}

	viewID := uuid.NewString()
	ctx := context.Background()

	switch p.ViewType {
	case "community":
		v, err := c.session.OpenCommunity(ctx, p.CommunityID, p.Sort)
		if err != nil {
			c.ack(frame.RequestID, nil, joinError(err))
			return
		}
		if !c.track(viewID, v) {
			v.Close()
			c.ack(frame.RequestID, nil, errors.New("connection closed"))
			return
		}
		go c.pumpCommunity(viewID, v)
	case "thread":
		if p.PostID == "" {
			c.ack(frame.RequestID, nil, errors.New("postId is required for thread views"))
			return
		}
		v, err := c.session.OpenThread(ctx, p.CommunityID, p.PostID, p.Sort)
		if err != nil {
			c.ack(frame.RequestID, nil, joinError(err))
			return
		}
		if !c.track(viewID, v) {
			v.Close()
			c.ack(frame.RequestID, nil, errors.New("connection closed"))
			return
		}
		go c.pumpThread(viewID, v)
	default:
		c.ack(frame.RequestID, nil, fmt.Errorf("unknown view type: %s", p.ViewType))
		return
	}

	c.ack(frame.RequestID, gin.H{"viewId": viewID}, nil)
}

// joinError flattens the denial sentinel to its wire reason.
func joinError(err error) error {
	if errors.Is(err, room.ErrJoinDenied) {
		return room.ErrJoinDenied
	}
	return err
}

func (c *connection) handleViewClose(frame Frame) {
	var p struct {
		ViewID string `json:"viewId"`
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.ViewID == "" {
		c.ack(frame.RequestID, nil, errors.New("viewId is required"))
		return
	}
	c.mu.Lock()
	v, ok := c.views[p.ViewID]
	delete(c.views, p.ViewID)
	c.mu.Unlock()
	if ok {
		v.Close()
	}
	c.ack(frame.RequestID, nil, nil)
}

func (c *connection) handleDeleteRequest(frame Frame) {
	var p struct {
		TargetID    string `json:"targetId"`
		TargetType  string `json:"targetType"`
		CommunityID string `json:"communityId"`
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.TargetID == "" || p.CommunityID == "" {
		c.ack(frame.RequestID, nil, errors.New("targetId, targetType and communityId are required"))
		return
	}
	// The protocol round-trip is bounded by the session's configured ack
	// timeout; the frame handler itself must not block the read pump.
	go func() {
		err := c.session.RequestDelete(context.Background(), moderation.Target{
			ID:          p.TargetID,
			Type:        p.TargetType,
			CommunityID: p.CommunityID,
		})
		c.ack(frame.RequestID, nil, err)
	}()
}

func (c *connection) handleMembership(frame Frame) {
	var p struct {
		CommunityID string `json:"communityId"`
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.CommunityID == "" {
		c.ack(frame.RequestID, nil, errors.New("communityId is required"))
		return
	}
	membership, ok := c.session.Membership(p.CommunityID)
	if !ok {
		c.ack(frame.RequestID, gin.H{"state": "none"}, nil)
		return
	}
	c.ack(frame.RequestID, gin.H{
		"state": membership.State.String(),
		"acked": membership.Acked,
	}, nil)
}

// track registers a view for teardown. It refuses once the connection is
// closing, so a view whose open raced the teardown gets closed by its
// caller instead of leaking.
func (c *connection) track(viewID string, v openView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	c.views[viewID] = v
	return true
}

// pumpCommunity forwards reconciled post lists out on every change wakeup.
func (c *connection) pumpCommunity(viewID string, v *view.CommunityView) {
	for {
		select {
		case <-c.done:
			return
		case _, ok := <-v.Updates():
			if !ok {
				return
			}
			if err := v.Err(); err != nil {
				c.sendFrame(Frame{
					Kind:    frameViewError,
					Payload: mustMarshal(gin.H{"viewId": viewID, "error": err.Error()}),
				})
				return
			}
			c.sendFrame(Frame{
				Kind: frameViewUpdate,
				Payload: mustMarshal(gin.H{
					"viewId": viewID,
					"posts":  v.Posts(),
				}),
			})
		}
	}
}

func (c *connection) pumpThread(viewID string, v *view.ThreadView) {
	for {
		select {
		case <-c.done:
			return
		case _, ok := <-v.Updates():
			if !ok {
				return
			}
			if err := v.Err(); err != nil {
				c.sendFrame(Frame{
					Kind:    frameViewError,
					Payload: mustMarshal(gin.H{"viewId": viewID, "error": err.Error()}),
				})
				return
			}
			forest := v.Thread()
			c.sendFrame(Frame{
				Kind: frameViewUpdate,
				Payload: mustMarshal(gin.H{
					"viewId": viewID,
					"count":  forest.Size,
					"roots":  forest.Roots,
				}),
			})
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		views := c.views
		c.views = make(map[string]openView)
		c.mu.Unlock()
		for _, v := range views {
			v.Close()
		}
		c.session.Close()
		c.ws.Close()
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
