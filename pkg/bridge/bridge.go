package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-direction buffer size used when none is given.
const DefaultBufferSize = 32 * 1024

// Stats reports the bytes relayed by one Relay call.
type Stats struct {
	// Up counts client to target bytes
	Up int64

	// Down counts target to client bytes
	Down int64
}

// Bridge relays bytes between two connections using pooled buffers.
type Bridge struct {
	size int
	pool sync.Pool
}

// New returns a Bridge with per-direction buffers of bufferSize bytes.
func New(bufferSize int) *Bridge {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &Bridge{size: bufferSize}
	b.pool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return b
}

// BufferSize returns the per-direction buffer size.
func (b *Bridge) BufferSize() int {
	return b.size
}

// Relay copies client to target and target to client until either side
// closes, a copy fails or ctx ends. When one direction stops both
// connections are closed. Relay returns after both copies have exited.
//
// The returned error is the first copy error other than EOF or a
// use-of-closed-connection caused by the shutdown itself.
func (b *Bridge) Relay(ctx context.Context, client, target io.ReadWriteCloser) (Stats, error) {
	var (
		up, down  atomic.Int64
		closeOnce sync.Once
		errOnce   sync.Once
		firstErr  error
		wg        sync.WaitGroup
	)

	closeBoth := func() {
		closeOnce.Do(func() {
			client.Close()
			target.Close()
		})
	}
	record := func(err error) {
		if err != nil && !isClosed(err) {
			errOnce.Do(func() { firstErr = err })
		}
	}

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	wg.Add(2)
	go func() {
		defer wg.Done()
		record(b.pipe(target, client, &up))
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		record(b.pipe(client, target, &down))
		closeBoth()
	}()
	wg.Wait()

	stats := Stats{Up: up.Load(), Down: down.Load()}
	if firstErr == nil && ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, firstErr
}

// pipe is a blocking read-then-write loop; the next read is not issued
// until the previous chunk is fully written.
func (b *Bridge) pipe(dst io.Writer, src io.Reader, counter *atomic.Int64) error {
	bufp := b.pool.Get().(*[]byte)
	defer b.pool.Put(bufp)
	buf := *bufp

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			counter.Add(int64(written))
			if werr != nil {
				return werr
			}
			if written != n {
				return io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

// isClosed reports errors produced by closing a connection mid-copy.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF)
}
