package proxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// errClientGone is the cancellation cause when the client hangs up while
// its target is being resolved.
var errClientGone = errors.New("client closed connection")

// aLongTimeAgo is a read deadline that unblocks a pending Read at once.
var aLongTimeAgo = time.Unix(1, 0)

// bufferedConn reads through the bufio.Reader that decoded the CONNECT head,
// so payload bytes the client sent early are not lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// watchClose returns a context that is cancelled when the client closes
// conn. The returned stop function ends the watch and must be called
// before br is read again; any bytes the watch peeked stay in br.
func watchClose(ctx context.Context, conn net.Conn, br *bufio.Reader) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if _, err := br.Peek(1); err != nil && !isTimeout(err) {
			cancel(errClientGone)
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			conn.SetReadDeadline(aLongTimeAgo)
			<-done
			conn.SetReadDeadline(time.Time{})
		})
	}
}

// chanListener is a net.Listener fed by Push instead of a socket.
type chanListener struct {
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
	addr  net.Addr
}

func newChanListener(name string) *chanListener {
	return &chanListener{
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		addr:  pipeAddr(name),
	}
}

// Push hands conn to the next Accept. It fails once the listener is closed.
func (l *chanListener) Push(conn net.Conn) error {
	select {
	case l.conns <- conn:
		return nil
	case <-l.done:
		return net.ErrClosed
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return l.addr
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
