package capture

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

// read is one scripted result of fakeConn.Read
type read struct {
	data string
	err  error
}

// fakeConn replays scripted reads, then blocks until closed
type fakeConn struct {
	mu     sync.Mutex
	reads  []read
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(reads ...read) *fakeConn {
	return &fakeConn{reads: reads, closed: make(chan struct{})}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.reads) == 0 {
		c.mu.Unlock()
		<-c.closed
		return 0, net.ErrClosed
	}
	r := c.reads[0]
	n := copy(p, r.data)
	if n < len(r.data) {
		c.reads[0].data = r.data[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.reads = c.reads[1:]
	c.mu.Unlock()
	return n, r.err
}

func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// dial is one scripted result of fakeDialer.DialContext
type dial struct {
	conn net.Conn
	err  error
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []dial
	calls int
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.dials) == 0 {
		return nil, errors.New("no more scripted dials")
	}
	next := d.dials[0]
	d.dials = d.dials[1:]
	return next.conn, next.err
}

type appendCall struct {
	key     types.BucketKey
	records []types.Record
}

type mockSink struct {
	mu    sync.Mutex
	calls []appendCall
	err   error
}

func (m *mockSink) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, appendCall{key: key, records: append([]types.Record(nil), records...)})
	return nil
}

func (m *mockSink) appends() []appendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]appendCall(nil), m.calls...)
}

func (m *mockSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += len(c.records)
	}
	return n
}

type mockObserver struct {
	mu   sync.Mutex
	seen []types.Record
	err  error
}

func (o *mockObserver) Observe(ctx context.Context, rec types.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, rec)
	return o.err
}

// sleepRecorder records backoff waits without sleeping
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(n int)
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()
	if r.hook != nil {
		r.hook(n)
	}
	return ctx.Err()
}
