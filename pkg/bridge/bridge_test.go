package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

type relayResult struct {
	stats Stats
	err   error
}

func startRelay(t *testing.T, ctx context.Context, b *Bridge) (client, target net.Conn, done <-chan relayResult) {
	t.Helper()
	clientOuter, clientInner := net.Pipe()
	targetInner, targetOuter := net.Pipe()

	ch := make(chan relayResult, 1)
	go func() {
		stats, err := b.Relay(ctx, clientInner, targetInner)
		ch <- relayResult{stats, err}
	}()
	t.Cleanup(func() {
		clientOuter.Close()
		targetOuter.Close()
	})
	return clientOuter, targetOuter, ch
}

func waitRelay(t *testing.T, done <-chan relayResult) relayResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Relay did not return")
		return relayResult{}
	}
}

func TestRelay_BothDirections(t *testing.T) {
	client, target, done := startRelay(t, context.Background(), New(1024))

	go client.Write([]byte("hello"))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(target, buf); err != nil {
		t.Fatalf("read at target: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("target got %q, want hello", buf)
	}

	go target.Write([]byte("world!"))
	buf = make([]byte, 6)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read at client: %v", err)
	}
	if string(buf) != "world!" {
		t.Errorf("client got %q, want world!", buf)
	}

	client.Close()
	r := waitRelay(t, done)
	if r.err != nil {
		t.Errorf("Relay() error = %v", r.err)
	}
	if r.stats.Up != 5 || r.stats.Down != 6 {
		t.Errorf("Stats = %+v, want Up=5 Down=6", r.stats)
	}
}

// TestRelay_ClosePropagates tests that closing one side closes the other.
func TestRelay_ClosePropagates(t *testing.T) {
	client, target, done := startRelay(t, context.Background(), New(0))

	target.Close()
	waitRelay(t, done)

	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("expected client side to be closed")
	}
}

func TestRelay_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startRelay(t, ctx, New(0))

	cancel()
	r := waitRelay(t, done)
	if !errors.Is(r.err, context.Canceled) {
		t.Errorf("Relay() error = %v, want context.Canceled", r.err)
	}
}

// TestRelay_LargeTransferOrdering tests that bytes arrive verbatim and in
// order through a buffer much smaller than the payload.
func TestRelay_LargeTransferOrdering(t *testing.T) {
	client, target, done := startRelay(t, context.Background(), New(512))

	payload := make([]byte, 1<<20)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	go func() {
		client.Write(payload)
		client.Close()
	}()

	got, err := io.ReadAll(target)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("received %d bytes, want %d identical bytes", len(got), len(payload))
	}

	r := waitRelay(t, done)
	if r.stats.Up != int64(len(payload)) {
		t.Errorf("Up = %d, want %d", r.stats.Up, len(payload))
	}
}

type failingWriter struct {
	net.Conn
}

func (f failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestRelay_WriteError(t *testing.T) {
	clientOuter, clientInner := net.Pipe()
	targetInner, targetOuter := net.Pipe()
	defer clientOuter.Close()
	defer targetOuter.Close()

	done := make(chan relayResult, 1)
	go func() {
		stats, err := New(0).Relay(context.Background(), clientInner, failingWriter{targetInner})
		done <- relayResult{stats, err}
	}()

	clientOuter.Write([]byte("x"))
	r := waitRelay(t, done)
	if r.err == nil || r.err.Error() != "write failed" {
		t.Errorf("Relay() error = %v, want write failed", r.err)
	}
}

func TestNew_DefaultBufferSize(t *testing.T) {
	if got := New(0).BufferSize(); got != DefaultBufferSize {
		t.Errorf("BufferSize() = %d, want %d", got, DefaultBufferSize)
	}
	if got := New(4096).BufferSize(); got != 4096 {
		t.Errorf("BufferSize() = %d, want 4096", got)
	}
}

func BenchmarkRelay(b *testing.B) {
	br := New(DefaultBufferSize)
	chunk := make([]byte, 16*1024)
	b.SetBytes(int64(len(chunk)))

	clientOuter, clientInner := net.Pipe()
	targetInner, targetOuter := net.Pipe()
	go br.Relay(context.Background(), clientInner, targetInner)
	go io.Copy(io.Discard, targetOuter)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := clientOuter.Write(chunk); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	clientOuter.Close()
	targetOuter.Close()
}
