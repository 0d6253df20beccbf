package rpc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &frame{
		op:         OpSubmitClickBatch,
		flags:      flagError,
		id:         987654321,
		deadlineMS: 1500,
		payload:    []byte{0x81, 0xa1, 0x61, 0x01},
	}

	require.NoError(t, writeFrame(&buf, in))

	out, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.op, out.op)
	assert.Equal(t, in.flags, out.flags)
	assert.Equal(t, in.id, out.id)
	assert.Equal(t, in.deadlineMS, out.deadlineMS)
	assert.Equal(t, in.payload, out.payload)
	assert.True(t, out.isError())
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, &frame{op: OpPing, id: 1}))

	out, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpPing, out.op)
	assert.Empty(t, out.payload)
	assert.False(t, out.isError())
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	// Length below the header size is never valid.
	_, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 1}))
	assert.Error(t, err)
}

func TestErrorDomainMapping(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		sentinel error
	}{
		{"not found", CodeNotFound, domain.ErrUserNotFound},
		{"session inactive", CodeSessionInactive, domain.ErrSessionInactive},
		{"rate limited", CodeRateLimited, domain.ErrRateLimited},
		{"degraded", CodeDegraded, domain.ErrShardDegraded},
		{"queue full", CodeQueueFull, domain.ErrQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wireErr := &Error{Code: tt.code, Message: "boom"}
			assert.True(t, errors.Is(wireErr.Domain(), tt.sentinel))
		})
	}

	validation := &Error{Code: CodeValidation, Message: "bad username"}
	assert.True(t, domain.IsValidation(validation.Domain()))
}

func TestToWireErrorClassification(t *testing.T) {
	assert.Equal(t, CodeValidation, toWireError(domain.Validationf("nope")).Code)
	assert.Equal(t, CodeNotFound, toWireError(domain.ErrUserNotFound).Code)
	assert.Equal(t, CodeQueueFull, toWireError(domain.ErrQueueFull).Code)
	assert.Equal(t, CodeInternal, toWireError(errors.New("mystery")).Code)
}

func startTestServer(t *testing.T, register func(*Server)) (*Client, context.CancelFunc) {
	log, err := logger.New("error")
	require.NoError(t, err)

	srv := NewServer(log, 2*time.Second)
	register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	require.Eventually(t, func() bool {
		return srv.Addr() != nil
	}, time.Second, 5*time.Millisecond)

	client := Dial(srv.Addr().String(), 2, 2*time.Second, log)
	t.Cleanup(func() {
		client.Close()
		cancel()
		<-done
	})
	return client, cancel
}

func TestClientServerRoundTrip(t *testing.T) {
	client, _ := startTestServer(t, func(srv *Server) {
		srv.Handle(rpcEcho())
	})

	var resp GetUserStateResponse
	err := client.Call(context.Background(), OpGetUserState,
		&GetUserStateRequest{UserID: "abc"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.UserID)
	assert.Equal(t, int64(7), resp.TotalClicks)
}

func rpcEcho() (Op, HandlerFunc) {
	return OpGetUserState, func(ctx context.Context, decode func(any) error) (any, error) {
		var req GetUserStateRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return &GetUserStateResponse{UserID: req.UserID, TotalClicks: 7}, nil
	}
}

func TestClientServerErrorPropagation(t *testing.T) {
	client, _ := startTestServer(t, func(srv *Server) {
		srv.Handle(OpSubmitClickBatch, func(ctx context.Context, decode func(any) error) (any, error) {
			return nil, domain.ErrRateLimited
		})
	})

	err := client.Call(context.Background(), OpSubmitClickBatch,
		&SubmitClickBatchRequest{}, &SubmitClickBatchResponse{})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestClientServerConcurrentCalls(t *testing.T) {
	client, _ := startTestServer(t, func(srv *Server) {
		srv.Handle(rpcEcho())
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp GetUserStateResponse
			err := client.Call(context.Background(), OpGetUserState,
				&GetUserStateRequest{UserID: "x"}, &resp)
			assert.NoError(t, err)
			assert.Equal(t, "x", resp.UserID)
		}()
	}
	wg.Wait()
}

func TestClientUnavailablePeer(t *testing.T) {
	log, err := logger.New("error")
	require.NoError(t, err)

	client := Dial("127.0.0.1:1", 1, 200*time.Millisecond, log)
	defer client.Close()

	callErr := client.Call(context.Background(), OpPing, &PingRequest{}, &PingResponse{})
	var wireErr *Error
	require.True(t, errors.As(callErr, &wireErr))
	assert.Equal(t, CodeUnavailable, wireErr.Code)
}

func TestClientContextDeadline(t *testing.T) {
	client, _ := startTestServer(t, func(srv *Server) {
		srv.Handle(OpPing, func(ctx context.Context, decode func(any) error) (any, error) {
			select {
			case <-ctx.Done():
				return nil, errDeadline
			case <-time.After(5 * time.Second):
				return &PingResponse{}, nil
			}
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, OpPing, &PingRequest{}, &PingResponse{})
	assert.Error(t, err)
}
