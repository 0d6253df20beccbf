package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"clicker-backend/internal/shard"
	"clicker-backend/pkg/logger"
)

// clientConn is one persistent connection. Calls are serialized under mu:
// write request, read the matching response. Dead connections redial
// lazily on the next call.
type clientConn struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
}

func (cc *clientConn) ensureConnected() error {
	if cc.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", cc.addr, cc.timeout)
	if err != nil {
		return err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	cc.conn = conn
	cc.reader = bufio.NewReader(conn)
	return nil
}

func (cc *clientConn) drop() {
	if cc.conn != nil {
		cc.conn.Close()
		cc.conn = nil
		cc.reader = nil
	}
}

func (cc *clientConn) call(ctx context.Context, op Op, payload []byte) (*frame, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if err := cc.ensureConnected(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(cc.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, ctx.Err()
	}
	cc.conn.SetDeadline(deadline)

	cc.nextID++
	req := &frame{
		op:         op,
		id:         cc.nextID,
		deadlineMS: uint32(remaining.Milliseconds()),
		payload:    payload,
	}
	if err := writeFrame(cc.conn, req); err != nil {
		cc.drop()
		return nil, err
	}
	resp, err := readFrame(cc.reader)
	if err != nil {
		cc.drop()
		return nil, err
	}
	if resp.id != req.id {
		// The connection is out of sync; nothing on it can be trusted.
		cc.drop()
		return nil, fmt.Errorf("response id mismatch: got %d, want %d", resp.id, req.id)
	}
	return resp, nil
}

// Client is a pool of persistent connections to one server. Calls are
// spread round-robin; each connection carries one request at a time.
type Client struct {
	addr  string
	conns []*clientConn
	next  atomic.Uint64
	log   *logger.Logger
}

// Dial creates a client pool. Connections are established lazily on first
// use so a down peer does not block startup.
func Dial(addr string, poolSize int, timeout time.Duration, log *logger.Logger) *Client {
	if poolSize < 1 {
		poolSize = 1
	}
	conns := make([]*clientConn, poolSize)
	for i := range conns {
		conns[i] = &clientConn{addr: addr, timeout: timeout}
	}
	return &Client{addr: addr, conns: conns, log: log}
}

// Addr returns the remote address this client targets.
func (c *Client) Addr() string {
	return c.addr
}

// Close closes all pooled connections.
func (c *Client) Close() {
	for _, cc := range c.conns {
		cc.mu.Lock()
		cc.drop()
		cc.mu.Unlock()
	}
}

// Call performs one request. Wire errors are returned as domain sentinels
// where a mapping exists; transport failures come back as CodeUnavailable.
func (c *Client) Call(ctx context.Context, op Op, req, resp any) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	cc := c.conns[c.next.Add(1)%uint64(len(c.conns))]
	respFrame, err := cc.call(ctx, op, payload)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("%s to %s failed: %v", op, c.addr, err)}
	}

	if respFrame.isError() {
		var wireErr Error
		if err := msgpack.Unmarshal(respFrame.payload, &wireErr); err != nil {
			return fmt.Errorf("malformed %s error payload: %w", op, err)
		}
		return wireErr.Domain()
	}
	if resp == nil {
		return nil
	}
	if err := msgpack.Unmarshal(respFrame.payload, resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// Ping checks that the peer answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, OpPing, &PingRequest{}, &PingResponse{})
}

// AggregatorRouter routes user-scoped calls to the aggregator owning the
// user's shard. All operations for one user land on one process, which is
// what keeps per-user counters single-writer.
type AggregatorRouter struct {
	clients []*Client
	nShards int
}

// NewAggregatorRouter creates one client pool per aggregator address.
func NewAggregatorRouter(addrs []string, nShards, poolSize int, timeout time.Duration, log *logger.Logger) *AggregatorRouter {
	clients := make([]*Client, len(addrs))
	for i, addr := range addrs {
		clients[i] = Dial(addr, poolSize, timeout, log)
	}
	return &AggregatorRouter{clients: clients, nShards: nShards}
}

// ForUser returns the client for the aggregator owning the user's shard.
func (r *AggregatorRouter) ForUser(userID uuid.UUID) *Client {
	idx := shard.ForUser(userID, r.nShards) % len(r.clients)
	return r.clients[idx]
}

// ForChat routes by external chat id before a user id exists. The user's
// uuid is derived deterministically from the chat id on first resolve, so
// this lands on the same shard as every later call for that user.
func (r *AggregatorRouter) ForChat(chatID int64) *Client {
	return r.ForUser(shard.UserIDForChat(chatID))
}

// Close closes every client pool.
func (r *AggregatorRouter) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
