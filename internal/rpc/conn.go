package rpc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// reconnectBase is the backoff unit: the supervisor sleeps
// reconnectBase × attempt between redials, and attempt resets to zero
// on a successful connect.
const reconnectBase = 10 * time.Second

// outboundQueue bounds frames waiting for the writer.
const outboundQueue = 16

// ErrClosed reports use of a connection after Close.
var ErrClosed = errors.New("rpc: connection closed")

// Conn is a correlated RPC connection over a reconnecting stream.
//
// A supervisor goroutine owns the dial loop; each live socket gets a
// reader and a writer goroutine. When either half fails the socket is
// torn down and redialed with linear backoff. Correlated calls that
// were in flight are not replayed; they complete only if the peer
// responds on the restored connection.
type Conn struct {
	logger *zap.Logger
	dial   func(ctx context.Context) (net.Conn, error)

	out chan []byte

	// calls maps a request uuid to its one-shot completion slot.
	calls sync.Map // uuid.UUID -> chan []byte

	subs topicTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial starts the connection supervisor for addr. The returned Conn is
// usable immediately; calls block until a connection is up and the
// peer responds.
func Dial(ctx context.Context, addr string, logger *zap.Logger) *Conn {
	return DialFunc(ctx, logger, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
}

// DialFunc is Dial with a custom transport constructor (used by tests
// to run the protocol over in-memory pipes).
func DialFunc(ctx context.Context, logger *zap.Logger, dial func(ctx context.Context) (net.Conn, error)) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		logger: logger,
		dial:   dial,
		out:    make(chan []byte, outboundQueue),
		ctx:    ctx,
		cancel: cancel,
	}
	c.subs.m = make(map[string][]*Subscription)

	c.wg.Add(1)
	go c.supervise()
	return c
}

// supervise redials forever, handing each fresh socket to a reader and
// a writer goroutine and waiting for one of them to fail.
func (c *Conn) supervise() {
	defer c.wg.Done()

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			attempt++
			delay := reconnectBase * time.Duration(attempt)
			c.logger.Warn("rpc connect failed, retrying",
				zap.Error(err),
				zap.Duration("delay", delay))

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.logger.Info("rpc connected")

		connDone := make(chan struct{})
		errCh := make(chan error, 2)

		var serveWG sync.WaitGroup
		serveWG.Add(2)
		go func() {
			defer serveWG.Done()
			errCh <- c.readLoop(conn)
		}()
		go func() {
			defer serveWG.Done()
			errCh <- c.writeLoop(conn, connDone)
		}()

		select {
		case err := <-errCh:
			c.logger.Warn("rpc connection lost", zap.Error(err))
		case <-c.ctx.Done():
		}

		close(connDone)
		conn.Close()
		serveWG.Wait()
	}
}

// readLoop parses frames until the socket dies or a protocol violation
// aborts the connection. Correlated bodies complete their pending slot;
// every body is also delivered to the key's subscribers.
func (c *Conn) readLoop(conn net.Conn) error {
	br := bufio.NewReader(conn)
	for {
		f, err := readFrame(br)
		if err != nil {
			return err
		}

		if f.id != nil {
			if slot, ok := c.calls.LoadAndDelete(*f.id); ok {
				slot.(chan []byte) <- f.body
			}
		}

		c.subs.publish(f.key, f.body)
	}
}

// writeLoop drains the outbound queue into the socket. A frame taken
// from the queue when the write fails is lost; its call stays pending,
// matching the no-replay contract.
func (c *Conn) writeLoop(conn net.Conn, connDone chan struct{}) error {
	for {
		select {
		case data := <-c.out:
			if _, err := conn.Write(data); err != nil {
				return err
			}
		case <-connDone:
			return nil
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// Call sends a correlated request and returns the raw response body.
// There is no implicit timeout; bound the wait with ctx if needed.
func (c *Conn) Call(ctx context.Context, method string, payload any) ([]byte, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	data, err := appendFrame(nil, method, &id, body)
	if err != nil {
		return nil, err
	}

	slot := make(chan []byte, 1)
	c.calls.Store(id, slot)
	defer c.calls.Delete(id)

	select {
	case c.out <- data:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}

	select {
	case resp := <-slot:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// Notify sends an untagged fire-and-forget frame.
func (c *Conn) Notify(ctx context.Context, method string, payload any) error {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}

	data, err := appendFrame(nil, method, nil, body)
	if err != nil {
		return err
	}

	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Subscribe registers for every inbound frame whose key equals method.
func (c *Conn) Subscribe(method string) *Subscription {
	return c.subs.subscribe(method)
}

// Close terminates the supervisor and both loop goroutines. Pending
// calls unblock with ErrClosed.
func (c *Conn) Close() {
	c.cancel()
	c.wg.Wait()
}
