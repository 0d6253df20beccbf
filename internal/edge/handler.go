package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clicker-backend/internal/domain"
	"clicker-backend/internal/rpc"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler terminates WebSocket connections. Identity and sessions come
// from the aggregator over RPC; score and leaderboard pushes read the hot
// cache directly so fan-out never touches the write path.
type Handler struct {
	game        *rpc.GameClient
	leaderboard *rpc.LeaderboardClient
	cache       *redis.Client
	registry    *Registry

	scorePush       time.Duration
	leaderboardPush time.Duration
	rpcTimeout      time.Duration
	maxBatch        uint32
	boardLen        int

	log *logger.Logger
}

type HandlerConfig struct {
	ScorePush       time.Duration
	LeaderboardPush time.Duration
	RPCTimeout      time.Duration
	MaxBatch        uint32
	BoardLen        int
}

func NewHandler(game *rpc.GameClient, leaderboard *rpc.LeaderboardClient, cache *redis.Client, registry *Registry, cfg HandlerConfig, log *logger.Logger) *Handler {
	return &Handler{
		game:            game,
		leaderboard:     leaderboard,
		cache:           cache,
		registry:        registry,
		scorePush:       cfg.ScorePush,
		leaderboardPush: cfg.LeaderboardPush,
		rpcTimeout:      cfg.RPCTimeout,
		maxBatch:        cfg.MaxBatch,
		boardLen:        cfg.BoardLen,
		log:             log,
	}
}

// connState is the per-connection state machine. A connection is
// unauthenticated until a successful init; everything but init is rejected
// before that.
type connState struct {
	conn *websocket.Conn
	send chan any

	mu        sync.Mutex
	userID    uuid.UUID
	sessionID uuid.UUID
	username  string
	authed    bool

	limiter *SessionLimiter

	lastScore atomic.Int64
	lastRank  atomic.Uint32
}

func (c *connState) identity() (uuid.UUID, uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.sessionID, c.authed
}

func (c *connState) profile() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID.String(), c.username
}

// ServeWS handles GET /ws.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connState{
		conn:    conn,
		send:    make(chan any, 64),
		limiter: NewSessionLimiter(h.scorePush),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writeLoop(c, cancel)
	}()
	go func() {
		defer wg.Done()
		h.pushLoop(ctx, c)
	}()

	clean := h.readLoop(ctx, c)

	cancel()
	close(c.send)
	wg.Wait()
	conn.Close()
	h.teardown(c, clean)
}

// readLoop processes inbound frames until the connection dies. Returns
// true when the client closed cleanly.
func (h *Handler) readLoop(ctx context.Context, c *connState) bool {
	readTimeout := 2 * h.leaderboardPush
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway)
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.trySend(c, errorMsg("bad_message", "malformed JSON"))
			continue
		}

		switch msg.Type {
		case MsgInit:
			h.onInit(ctx, c, &msg)
		case MsgClick:
			h.onClick(ctx, c, &msg)
		case MsgHeartbeat:
			h.onHeartbeat(ctx, c, &msg)
		case MsgRefresh:
			h.onRefresh(ctx, c, &msg)
		default:
			h.trySend(c, errorMsg("bad_message", "unknown message type"))
		}
	}
}

func (h *Handler) onInit(ctx context.Context, c *connState, msg *ClientMessage) {
	if _, _, authed := c.identity(); authed {
		h.trySend(c, errorMsg("already_initialized", "session already established"))
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, h.rpcTimeout)
	defer cancel()

	user, err := h.game.ResolveUser(rpcCtx, msg.ExternalChatID, msg.Username)
	if err != nil {
		h.sendRPCError(c, err)
		return
	}
	userID, err := uuid.Parse(user.UserID)
	if err != nil {
		h.trySend(c, errorMsg("internal", "bad user id from backend"))
		return
	}

	sess, err := h.game.OpenSession(rpcCtx, userID, msg.ExternalChatID)
	if err != nil {
		h.sendRPCError(c, err)
		return
	}
	sessionID, err := uuid.Parse(sess.SessionID)
	if err != nil {
		h.trySend(c, errorMsg("internal", "bad session id from backend"))
		return
	}

	c.mu.Lock()
	c.userID = userID
	c.sessionID = sessionID
	c.username = user.Username
	c.authed = true
	c.mu.Unlock()

	// A resumed session may still have a zombie connection attached;
	// displace it so the session has exactly one.
	if displaced := h.registry.Add(sess.SessionID, c); displaced != nil {
		displaced.conn.Close()
	}

	h.trySend(c, &SessionInfo{
		Type:           MsgSessionInfo,
		UserID:         user.UserID,
		Username:       user.Username,
		SessionID:      sess.SessionID,
		IsReconnection: sess.IsReconnection,
		SessionClicks:  sess.SessionClicks,
		TotalClicks:    user.TotalClicks,
	})
	h.pushScore(ctx, c, true)
}

func (h *Handler) onClick(ctx context.Context, c *connState, msg *ClientMessage) {
	userID, sessionID, authed := c.identity()
	if !authed {
		h.trySend(c, errorMsg("not_initialized", "send init first"))
		return
	}
	if !ownsSession(msg, userID.String(), sessionID.String()) {
		h.trySend(c, errorMsg("ownership", "ids do not match this connection"))
		return
	}
	if msg.ClickCount == 0 {
		h.trySend(c, errorMsg("validation", "click count must be positive"))
		return
	}
	if msg.ClickCount > h.maxBatch {
		h.trySend(c, rateLimitedMsg("batch too large"))
		return
	}
	if !c.limiter.Allow(time.Now()) {
		h.trySend(c, rateLimitedMsg("too many batches"))
		return
	}

	// Optimistic echo; the periodic push corrects any drift.
	optimistic := c.lastScore.Load() + int64(msg.ClickCount)
	c.lastScore.Store(optimistic)
	h.trySend(c, &ScoreUpdate{
		Type:  MsgScoreUpdate,
		Score: optimistic,
		Rank:  c.lastRank.Load(),
	})

	req := &rpc.SubmitClickBatchRequest{
		UserID:      userID.String(),
		SessionID:   sessionID.String(),
		Count:       msg.ClickCount,
		SubmittedAt: time.Now().UnixMilli(),
	}
	go func() {
		rpcCtx, cancel := context.WithTimeout(context.Background(), h.rpcTimeout)
		defer cancel()
		resp, err := h.game.SubmitClickBatch(rpcCtx, req)
		if err != nil {
			h.sendRPCError(c, err)
			return
		}
		c.lastScore.Store(resp.TotalClicks)
	}()
}

func (h *Handler) onHeartbeat(ctx context.Context, c *connState, msg *ClientMessage) {
	userID, sessionID, authed := c.identity()
	if !authed {
		return
	}
	if !ownsSession(msg, userID.String(), sessionID.String()) {
		h.trySend(c, errorMsg("ownership", "ids do not match this connection"))
		return
	}
	h.forwardHeartbeat(userID, sessionID)
}

// forwardHeartbeat refreshes the session's liveness without blocking the
// read loop.
func (h *Handler) forwardHeartbeat(userID, sessionID uuid.UUID) {
	go func() {
		rpcCtx, cancel := context.WithTimeout(context.Background(), h.rpcTimeout)
		defer cancel()
		if err := h.game.Heartbeat(rpcCtx, userID, sessionID); err != nil {
			h.log.WithError(err).Debug("heartbeat forward failed")
		}
	}()
}

func (h *Handler) onRefresh(ctx context.Context, c *connState, msg *ClientMessage) {
	userID, sessionID, authed := c.identity()
	if !authed {
		h.trySend(c, errorMsg("not_initialized", "send init first"))
		return
	}
	if !ownsSession(msg, userID.String(), sessionID.String()) {
		h.trySend(c, errorMsg("ownership", "ids do not match this connection"))
		return
	}
	// A refresh proves the player is still there even if they stop
	// clicking; count it as liveness so the sweeper does not close the
	// session under an open connection.
	h.forwardHeartbeat(userID, sessionID)
	h.pushScore(ctx, c, true)
	h.pushLeaderboard(ctx, c, true, new(uint64))
}

// sendRPCError translates a backend error into a client message.
func (h *Handler) sendRPCError(c *connState, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrQueueFull):
		h.trySend(c, rateLimitedMsg("too many clicks"))
	case errors.Is(err, domain.ErrShardDegraded):
		h.trySend(c, errorMsg("overloaded", "server is catching up, clicks dropped"))
	case errors.Is(err, domain.ErrSessionInactive), errors.Is(err, domain.ErrSessionNotFound):
		h.trySend(c, errorMsg("session_expired", "session no longer active"))
	case domain.IsValidation(err):
		h.trySend(c, errorMsg("validation", err.Error()))
	default:
		h.log.WithError(err).Warn("backend call failed")
		h.trySend(c, errorMsg("internal", "temporary failure, try again"))
	}
}

// trySend queues a message, dropping it when the client cannot keep up.
// Pushes are periodic so a dropped one heals on the next tick.
func (h *Handler) trySend(c *connState, msg any) {
	defer func() {
		// The send channel closes when the read loop exits; a late
		// goroutine may still try to queue.
		recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Handler) writeLoop(c *connState, cancel context.CancelFunc) {
	defer cancel()
	pingInterval := h.leaderboardPush
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs after the connection is gone. A clean close ends the
// session; an abnormal one leaves it active so the client can resume
// within the reconnect window.
func (h *Handler) teardown(c *connState, clean bool) {
	userID, sessionID, authed := c.identity()
	if !authed {
		return
	}
	h.registry.Remove(sessionID.String(), c)
	if !clean {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.rpcTimeout)
	defer cancel()
	if err := h.game.CloseSession(ctx, userID, sessionID, "client_close"); err != nil {
		h.log.WithError(err).Debug("session close failed")
	}
}
