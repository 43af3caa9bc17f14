package websockets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrSocketClosed = errors.New("socket is closed")

type socket struct {
	url     string
	logger  *zap.Logger
	events  deepstream.SocketEvents
	limiter *rate.Limiter

	// queue holds frames not yet taken by the write pump. It is unbounded;
	// wake has room for one pending signal.
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}

	// ctx ends the socket, either from Close or when a pump fails.
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	errOnce sync.Once
	done    chan struct{}
}

var _ deepstream.Socket = (*socket)(nil)

// Send queues data for the write pump. It never blocks and never drops a
// frame while the socket is open.
func (s *socket) Send(data []byte) error {
	if s.closing.Load() || s.ctx.Err() != nil {
		return ErrSocketClosed
	}
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// take removes and returns every queued frame.
func (s *socket) take() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

// Queued returns the number of frames waiting for the write pump.
func (s *socket) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close starts a normal closure and returns without waiting for it.
// OnClose follows once the pumps have stopped.
func (s *socket) Close() error {
	if s.closing.CompareAndSwap(false, true) {
		s.logger.Debug("Closing WebSocket")
		s.cancel()
	}
	return nil
}

func (s *socket) run(d *Dialer) {
	defer close(s.done)
	defer s.events.OnClose()

	conn, err := d.dial(s.ctx, s.url)
	if err != nil {
		if !s.closing.Load() {
			s.reportError(err)
		}
		return
	}
	if s.closing.Load() {
		conn.CloseNow()
		return
	}

	s.logger.Info("WebSocket connected")
	s.events.OnOpen()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(conn)
	}()

	<-s.ctx.Done()
	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		s.logger.Debug("WebSocket close", zap.Error(err))
	}
	wg.Wait()
	s.logger.Info("WebSocket disconnected")
}

// readLoop hands every incoming message to OnMessage until the connection
// ends. It reads without a deadline; closing the conn unblocks it.
func (s *socket) readLoop(conn *websocket.Conn) {
	defer s.cancel()
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			if !s.closing.Load() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.reportError(fmt.Errorf("failed to read from WebSocket: %w", err))
			}
			return
		}
		s.events.OnMessage(data)
	}
}

// writeLoop writes queued frames in Send order.
func (s *socket) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for _, data := range s.take() {
			if s.limiter != nil {
				if err := s.limiter.Wait(s.ctx); err != nil {
					return
				}
			}
			if err := conn.Write(s.ctx, websocket.MessageBinary, data); err != nil {
				if s.ctx.Err() == nil {
					s.reportError(fmt.Errorf("failed to write to WebSocket: %w", err))
					s.cancel()
				}
				return
			}
		}
	}
}

// reportError calls OnError at most once per socket.
func (s *socket) reportError(err error) {
	s.errOnce.Do(func() {
		s.logger.Debug("WebSocket error", zap.Error(err))
		s.events.OnError(err)
	})
}
