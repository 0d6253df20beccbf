package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"clicker-backend/pkg/logger"
)

// HandlerFunc processes one request. decode unmarshals the request payload
// into the given struct; the returned value is marshalled as the response.
type HandlerFunc func(ctx context.Context, decode func(any) error) (any, error)

// Server accepts persistent connections and dispatches frames to registered
// handlers. Requests on one connection run concurrently; responses are
// matched by request id on the client side, so ordering does not matter.
type Server struct {
	handlers       map[Op]HandlerFunc
	defaultTimeout time.Duration
	log            *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server. defaultTimeout bounds requests that carry no
// deadline of their own.
func NewServer(log *logger.Logger, defaultTimeout time.Duration) *Server {
	return &Server{
		handlers:       make(map[Op]HandlerFunc),
		defaultTimeout: defaultTimeout,
		log:            log,
		conns:          make(map[net.Conn]struct{}),
	}
}

// Handle registers the handler for an op. Not safe to call after
// ListenAndServe.
func (s *Server) Handle(op Op, fn HandlerFunc) {
	s.handlers[op] = fn
}

// ListenAndServe accepts connections until ctx is cancelled, then closes
// the listener and all live connections and waits for in-flight handlers.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("RPC server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	reader := bufio.NewReader(conn)
	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		req, err := readFrame(reader)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.log.WithError(err).Debug("RPC connection read failed")
			}
			return
		}
		inflight.Add(1)
		go func(req *frame) {
			defer inflight.Done()
			s.dispatch(ctx, conn, &writeMu, req)
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, writeMu *sync.Mutex, req *frame) {
	timeout := s.defaultTimeout
	if req.deadlineMS > 0 {
		timeout = time.Duration(req.deadlineMS) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fn, ok := s.handlers[req.op]
	var result any
	var err error
	if !ok {
		err = &Error{Code: CodeInternal, Message: fmt.Sprintf("unknown op %d", req.op)}
	} else {
		result, err = fn(reqCtx, func(v any) error {
			return msgpack.Unmarshal(req.payload, v)
		})
		if err == nil && reqCtx.Err() != nil {
			err = errDeadline
		}
	}

	resp := &frame{op: req.op, id: req.id}
	if err != nil {
		wireErr := toWireError(err)
		if wireErr.Code == CodeInternal {
			s.log.WithFields(map[string]interface{}{
				"op":    req.op.String(),
				"error": err.Error(),
			}).Error("RPC handler failed")
		}
		resp.flags |= flagError
		resp.payload, err = msgpack.Marshal(wireErr)
	} else {
		resp.payload, err = msgpack.Marshal(result)
	}
	if err != nil {
		s.log.WithError(err).Error("failed to encode RPC response")
		resp.flags |= flagError
		resp.payload, _ = msgpack.Marshal(&Error{Code: CodeInternal, Message: "encode failed"})
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := writeFrame(conn, resp); err != nil {
		s.log.WithError(err).Debug("RPC response write failed")
		conn.Close()
	}
}
