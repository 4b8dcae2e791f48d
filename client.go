package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Minimum spacing between outgoing commands. The receiver drops
	// commands that arrive back to back.
	minSendInterval = 50 * time.Millisecond

	responseTimeout = 5 * time.Second
	writeTimeout    = 5 * time.Second
)

// Client is the transport session to one receiver. Process must be running
// concurrently for any request/response exchange to complete.
type Client interface {
	Host() string
	Connected() bool
	Start(ctx context.Context) error
	Stop() error
	Process(ctx context.Context) error
	Request(ctx context.Context, zn ZoneNumber, cc CommandCode, data []byte) ([]byte, error)
	RequestDuet(ctx context.Context) (DuetInfo, error)
	Listen(fn func(Frame)) func()
}

type pendingKey struct {
	zone ZoneNumber
	cc   CommandCode
}

// NetClient speaks the FMJ control protocol over a TCP session. One
// connection at a time; Start creates it, Stop tears it down, Process owns
// the read side until either happens.
type NetClient struct {
	host string
	port int
	log  zerolog.Logger

	mu      sync.Mutex
	conn    net.Conn
	stopped bool

	listenMu     sync.Mutex
	listeners    map[int]func(Frame)
	nextListener int

	reqMu    sync.Mutex
	lastSend time.Time

	pendingMu   sync.Mutex
	pending     map[pendingKey]chan Frame
	pendingDuet chan DuetInfo
}

func NewNetClient(host string, port int, log zerolog.Logger) *NetClient {
	return &NetClient{
		host:      host,
		port:      port,
		log:       log.With().Str("host", host).Logger(),
		listeners: make(map[int]func(Frame)),
		pending:   make(map[pendingKey]chan Frame),
	}
}

func (c *NetClient) Host() string { return c.host }

func (c *NetClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.stopped
}

// Start dials the receiver. The caller bounds the attempt through ctx; a
// deadline hit surfaces as the context error so it can be told apart from
// an active refusal.
func (c *NetClient) Start(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stopped = false
	c.mu.Unlock()
	return nil
}

// Stop closes the current connection. Safe to call repeatedly and from any
// goroutine; a blocked Process read unblocks with a clean exit.
func (c *NetClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Process runs the read loop until the connection ends. Returns nil after
// Stop, the context error on cancellation, and ErrConnectionFailed when the
// peer closes or the stream breaks.
func (c *NetClient) Process(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		frame, beacon, err := readFrame(reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.mu.Lock()
			stopped := c.stopped
			c.conn = nil
			c.mu.Unlock()
			if stopped {
				return nil
			}
			_ = conn.Close()
			return fmt.Errorf("%w: read: %v", ErrConnectionFailed, err)
		}
		if beacon != "" {
			c.deliverBeacon(beacon)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *NetClient) dispatch(f Frame) {
	c.pendingMu.Lock()
	if ch, ok := c.pending[pendingKey{f.Zone, f.CC}]; ok {
		select {
		case ch <- f:
		default:
		}
	}
	c.pendingMu.Unlock()

	c.listenMu.Lock()
	fns := make([]func(Frame), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}

func (c *NetClient) deliverBeacon(line string) {
	info, err := parseDuetBeacon(line)
	if err != nil {
		c.log.Debug().Err(err).Msg("Discarding malformed AMX beacon")
		return
	}
	c.pendingMu.Lock()
	ch := c.pendingDuet
	c.pendingMu.Unlock()
	if ch != nil {
		select {
		case ch <- info:
		default:
		}
	}
}

// Request sends one command and waits for the matching response. Requests
// are serialized and throttled; correlation is by zone and command code.
func (c *NetClient) Request(ctx context.Context, zn ZoneNumber, cc CommandCode, data []byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	ch := make(chan Frame, 1)
	key := pendingKey{zn, cc}
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	if err := c.send(encodeRequest(zn, cc, data)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()
	select {
	case f := <-ch:
		if f.AC != AnswerStatusUpdate {
			return nil, &ResponseError{CC: f.CC, AC: f.AC}
		}
		return f.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response to command 0x%02X", ErrConnectionFailed, byte(cc))
	}
}

// RequestDuet asks for the AMX Duet identity beacon.
func (c *NetClient) RequestDuet(ctx context.Context) (DuetInfo, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	ch := make(chan DuetInfo, 1)
	c.pendingMu.Lock()
	c.pendingDuet = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pendingDuet = nil
		c.pendingMu.Unlock()
	}()

	if err := c.send([]byte(amxDuetRequest)); err != nil {
		return DuetInfo{}, err
	}

	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()
	select {
	case info := <-ch:
		return info, nil
	case <-ctx.Done():
		return DuetInfo{}, ctx.Err()
	case <-timer.C:
		return DuetInfo{}, fmt.Errorf("%w: no AMX beacon received", ErrConnectionFailed)
	}
}

// Listen subscribes to every inbound frame. The returned function removes
// the subscription.
func (c *NetClient) Listen(fn func(Frame)) func() {
	c.listenMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenMu.Unlock()
	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

func (c *NetClient) throttle(ctx context.Context) error {
	wait := minSendInterval - time.Since(c.lastSend)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *NetClient) send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	stopped := c.stopped
	c.mu.Unlock()
	if conn == nil || stopped {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnectionFailed, err)
	}
	c.lastSend = time.Now()
	return nil
}
