package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/endpoint"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/issuer"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

var (
	rootOnce sync.Once
	testRoot *ca.RootCA
	rootErr  error
)

func newRoot(t testing.TB) *ca.RootCA {
	t.Helper()
	rootOnce.Do(func() {
		testRoot, rootErr = ca.Generate("Proxy Test Root", "Interpose Test", 1)
	})
	if rootErr != nil {
		t.Fatalf("ca.Generate() error = %v", rootErr)
	}
	return testRoot
}

// countingIssuer issues real leaves, counts calls and can be made to fail
// or block.
type countingIssuer struct {
	root  *ca.RootCA
	calls atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
}

func (c *countingIssuer) Issue(ctx context.Context, domain string) (*issuer.DomainCertificate, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.fail.Load() {
		return nil, &issuer.IssueError{Domain: domain, Stage: issuer.StageSign, Err: errors.New("simulated signing failure")}
	}
	return issuer.Issue(c.root, domain, 30)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []*inventory.TunnelRecord
}

func (m *memoryRecorder) TunnelClosed(_ context.Context, rec *inventory.TunnelRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *memoryRecorder) waitFor(t testing.TB, n int) []*inventory.TunnelRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.records) >= n {
			out := append([]*inventory.TunnelRecord(nil), m.records...)
			m.mu.Unlock()
			return out
		}
		m.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d tunnel records", n)
	return nil
}

type testProxy struct {
	srv      *Server
	addr     string
	root     *ca.RootCA
	cache    *endpoint.Cache
	issuer   *countingIssuer
	recorder *memoryRecorder
}

// echoHandler answers every decrypted request with its host and path.
var echoHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%s %s%s", r.Method, r.Host, r.URL.Path)
})

func startProxy(t testing.TB, mutate func(*config.ProxyConfig)) *testProxy {
	t.Helper()

	cfg := config.NewDefaultConfig().Proxy
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	root := newRoot(t)
	iss := &countingIssuer{root: root}
	cache := endpoint.NewCache(iss, endpoint.Options{Logger: logging.Discard()})
	rec := &memoryRecorder{}

	srv, err := New(Deps{
		Config:   cfg,
		Root:     root,
		Cache:    cache,
		Handler:  echoHandler,
		Logger:   logging.Discard(),
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &testProxy{srv: srv, addr: ln.Addr().String(), root: root, cache: cache, issuer: iss, recorder: rec}
}

// connect dials the proxy, sends a CONNECT for target and returns the
// connection, a reader positioned after the response head and that head.
func (p *testProxy) connect(t testing.TB, target string) (net.Conn, *bufio.Reader, string) {
	t.Helper()
	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	br := bufio.NewReader(conn)
	return conn, br, readHead(t, conn, br)
}

func readHead(t testing.TB, conn net.Conn, br *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var head strings.Builder
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if err != nil {
			return head.String()
		}
		if line == "\r\n" {
			return head.String()
		}
	}
}

// tunneledConn wraps the CONNECT connection so reads drain br first.
type tunneledConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *tunneledConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (p *testProxy) handshake(t testing.TB, conn net.Conn, br *bufio.Reader, serverName string) *tls.Conn {
	t.Helper()
	tc := tls.Client(&tunneledConn{Conn: conn, r: br}, &tls.Config{
		RootCAs:    p.root.CertPool(),
		ServerName: serverName,
		NextProtos: []string{"http/1.1"},
	})
	tc.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tc.Handshake(); err != nil {
		t.Fatalf("TLS handshake: %v", err)
	}
	tc.SetDeadline(time.Time{})
	return tc
}

// TestScenarioA_ConnectEstablishesEndpoint tests CONNECT on an empty cache.
func TestScenarioA_ConnectEstablishesEndpoint(t *testing.T) {
	p := startProxy(t, nil)

	_, _, head := p.connect(t, "example.com:443")
	if head != responseEstablished {
		t.Fatalf("response = %q, want %q", head, responseEstablished)
	}
	if _, ok := p.cache.Lookup("example.com"); !ok {
		t.Error("no endpoint cached for example.com")
	}
}

// TestScenarioB_MalformedRequestLine tests that non-CONNECT input gets 400
// and a closed socket.
func TestScenarioB_MalformedRequestLine(t *testing.T) {
	p := startProxy(t, nil)

	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	io.WriteString(conn, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != responseBadRequest {
		t.Errorf("response = %q, want %q", got, responseBadRequest)
	}
}

// TestScenarioC_IssuanceFailure tests that a signing failure yields 502 and
// leaves nothing cached.
func TestScenarioC_IssuanceFailure(t *testing.T) {
	p := startProxy(t, nil)
	p.issuer.fail.Store(true)

	conn, br, head := p.connect(t, "broken.example:443")
	if head != responseBadGateway {
		t.Fatalf("response = %q, want %q", head, responseBadGateway)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, _ := br.Read(make([]byte, 1)); n != 0 {
		t.Error("expected the socket to be closed after 502")
	}
	if _, ok := p.cache.Lookup("broken.example"); ok {
		t.Error("failed endpoint was cached")
	}

	recs := p.recorder.waitFor(t, 1)
	if recs[0].Outcome != inventory.OutcomeRejected || recs[0].Domain != "broken.example" {
		t.Errorf("record = %+v, want rejected broken.example", recs[0])
	}
}

// TestScenarioD_EndpointReuse tests that sequential CONNECTs share one leaf.
func TestScenarioD_EndpointReuse(t *testing.T) {
	p := startProxy(t, nil)

	var serials []string
	for i := 0; i < 2; i++ {
		conn, br, head := p.connect(t, "reuse.example:443")
		if head != responseEstablished {
			t.Fatalf("CONNECT %d response = %q", i, head)
		}
		tc := p.handshake(t, conn, br, "reuse.example")
		serials = append(serials, tc.ConnectionState().PeerCertificates[0].SerialNumber.String())
		tc.Close()
	}

	if serials[0] != serials[1] {
		t.Errorf("serials differ: %s vs %s", serials[0], serials[1])
	}
	if got := p.issuer.calls.Load(); got != 1 {
		t.Errorf("issuer calls = %d, want 1", got)
	}
}

// TestMITM_RequestRoundTrip tests a full handshake and decrypted request.
func TestMITM_RequestRoundTrip(t *testing.T) {
	p := startProxy(t, nil)

	conn, br, head := p.connect(t, "example.com:443")
	if head != responseEstablished {
		t.Fatalf("response = %q", head)
	}
	tc := p.handshake(t, conn, br, "example.com")

	state := tc.ConnectionState()
	if state.NegotiatedProtocol != "http/1.1" {
		t.Errorf("ALPN = %q, want http/1.1", state.NegotiatedProtocol)
	}
	chain := state.PeerCertificates
	if len(chain) != 2 || !chain[1].Equal(p.root.Certificate) {
		t.Errorf("peer chain length %d, want leaf and root", len(chain))
	}

	io.WriteString(tc, "GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(tc), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "GET example.com/hello" {
		t.Errorf("got %d %q, want 200 %q", resp.StatusCode, body, "GET example.com/hello")
	}

	infos := p.srv.Tunnels()
	if len(infos) != 1 || infos[0].State != "established" || infos[0].Requests != 1 {
		t.Errorf("Tunnels() = %+v, want one established tunnel with one request", infos)
	}
	ep, _ := p.cache.Lookup("example.com")
	if ep == nil || ep.ActiveTunnels() != 1 {
		t.Error("endpoint does not track the open tunnel")
	}

	tc.Close()
	recs := p.recorder.waitFor(t, 1)
	if recs[0].Outcome != inventory.OutcomeOK || recs[0].Mode != "mitm" || recs[0].Requests != 1 {
		t.Errorf("record = %+v, want ok mitm with one request", recs[0])
	}
	if recs[0].BytesUp == 0 || recs[0].BytesDown == 0 {
		t.Error("byte counts not recorded")
	}
}

// TestMITM_ConcurrentFirstUse tests N concurrent CONNECTs for one unseen
// domain: one issuance, one endpoint, N working tunnels.
func TestMITM_ConcurrentFirstUse(t *testing.T) {
	p := startProxy(t, nil)
	p.issuer.gate = make(chan struct{})

	const n = 20
	var wg sync.WaitGroup
	serials := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", p.addr)
			if err != nil {
				errs[i] = err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			fmt.Fprintf(conn, "CONNECT busy.example:443 HTTP/1.1\r\n\r\n")
			br := bufio.NewReader(conn)
			status, err := br.ReadString('\n')
			if err != nil || status != "HTTP/1.1 200 Connection Established\r\n" {
				errs[i] = fmt.Errorf("status %q: %v", status, err)
				return
			}
			br.ReadString('\n')
			tc := tls.Client(&tunneledConn{Conn: conn, r: br}, &tls.Config{RootCAs: p.root.CertPool(), ServerName: "busy.example"})
			if err := tc.Handshake(); err != nil {
				errs[i] = err
				return
			}
			serials[i] = tc.ConnectionState().PeerCertificates[0].SerialNumber.String()
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(p.issuer.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("tunnel %d: %v", i, errs[i])
		}
		if serials[i] != serials[0] {
			t.Fatalf("tunnel %d saw serial %s, want %s", i, serials[i], serials[0])
		}
	}
	if got := p.issuer.calls.Load(); got != 1 {
		t.Errorf("issuer calls = %d, want 1", got)
	}
	if p.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1", p.cache.Size())
	}
}

// TestMITM_SNIDispatch tests that the SNI name selects the certificate.
func TestMITM_SNIDispatch(t *testing.T) {
	p := startProxy(t, nil)

	conn, br, _ := p.connect(t, "front.example:443")
	tc := p.handshake(t, conn, br, "other.example")
	defer tc.Close()

	leaf := tc.ConnectionState().PeerCertificates[0]
	if leaf.Subject.CommonName != "other.example" {
		t.Errorf("leaf CN = %q, want other.example", leaf.Subject.CommonName)
	}
	if _, ok := p.cache.Lookup("other.example"); !ok {
		t.Error("SNI domain endpoint not cached")
	}
}

// TestMITM_NoSNI tests that the CONNECT domain's leaf is used without SNI.
func TestMITM_NoSNI(t *testing.T) {
	p := startProxy(t, nil)

	conn, br, _ := p.connect(t, "nosni.example:443")
	tc := tls.Client(&tunneledConn{Conn: conn, r: br}, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // verified manually below
	})
	tc.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tc.Handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	defer tc.Close()

	leaf := tc.ConnectionState().PeerCertificates[0]
	if err := ca.VerifyLeaf(leaf, p.root.Certificate, "nosni.example"); err != nil {
		t.Errorf("leaf does not verify for the CONNECT domain: %v", err)
	}
}

func startEcho(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

// TestBypass_RelaysToOrigin tests bypass mode, including payload sent
// together with the CONNECT head.
func TestBypass_RelaysToOrigin(t *testing.T) {
	echo := startEcho(t)
	p := startProxy(t, func(c *config.ProxyConfig) { c.Mode = "bypass" })

	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\n\r\nearly", echo)
	br := bufio.NewReader(conn)
	if head := readHead(t, conn, br); head != responseEstablished {
		t.Fatalf("response = %q", head)
	}

	buf := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(br, buf); err != nil || string(buf) != "early" {
		t.Fatalf("echo of early payload = %q, %v", buf, err)
	}

	io.WriteString(conn, "ping")
	buf = make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("echo = %q, %v", buf, err)
	}
	if p.issuer.calls.Load() != 0 {
		t.Error("bypass tunnel issued a certificate")
	}

	conn.Close()
	recs := p.recorder.waitFor(t, 1)
	if recs[0].Mode != "bypass" || recs[0].BytesUp != 9 || recs[0].BytesDown != 9 {
		t.Errorf("record = %+v, want bypass with 9 bytes each way", recs[0])
	}
}

// TestBypass_DomainList tests per-domain bypass in mitm mode.
func TestBypass_DomainList(t *testing.T) {
	echo := startEcho(t)
	_, port, _ := net.SplitHostPort(echo)
	p := startProxy(t, func(c *config.ProxyConfig) { c.BypassDomains = []string{"localhost"} })

	if p.srv.ModeFor("localhost") != ModeBypass || p.srv.ModeFor("example.com") != ModeMITM {
		t.Fatal("unexpected ModeFor results")
	}

	conn, br, head := p.connect(t, "localhost:"+port)
	if head != responseEstablished {
		t.Fatalf("response = %q", head)
	}
	io.WriteString(conn, "x")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if b, err := br.ReadByte(); err != nil || b != 'x' {
		t.Fatalf("echo = %q, %v", b, err)
	}
}

// TestBypass_DialFailure tests that an unreachable origin yields 502.
func TestBypass_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := ln.Addr().String()
	ln.Close()

	p := startProxy(t, func(c *config.ProxyConfig) { c.Mode = "bypass" })
	if _, _, head := p.connect(t, closed); head != responseBadGateway {
		t.Errorf("response = %q, want %q", head, responseBadGateway)
	}
}

// TestServer_HeadTooLarge tests the head size limit.
func TestServer_HeadTooLarge(t *testing.T) {
	p := startProxy(t, func(c *config.ProxyConfig) { c.MaxHeaderBytes = 128 })

	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT example.com:443 HTTP/1.1\r\nX-Pad: %s\r\n\r\n", strings.Repeat("p", 256))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, _ := io.ReadAll(conn)
	if string(got) != responseBadRequest {
		t.Errorf("response = %q, want %q", got, responseBadRequest)
	}
}

// TestServer_HeaderTimeout tests that a request line without the blank
// line ending the head is answered with 408 once the header timeout ends.
func TestServer_HeaderTimeout(t *testing.T) {
	p := startProxy(t, func(c *config.ProxyConfig) { c.HeaderTimeout = 200 * time.Millisecond })

	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	io.WriteString(conn, "CONNECT example.com:443 HTTP/1.1\r\n")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, _ := io.ReadAll(conn)
	if string(got) != responseRequestTimeout {
		t.Errorf("response = %q, want %q", got, responseRequestTimeout)
	}
	if p.issuer.calls.Load() != 0 {
		t.Errorf("issuer calls = %d, want 0", p.issuer.calls.Load())
	}
}

// TestServer_ClientGoneDuringResolve tests that a client hanging up while
// its endpoint is created does not cancel the creation.
func TestServer_ClientGoneDuringResolve(t *testing.T) {
	p := startProxy(t, nil)
	p.issuer.gate = make(chan struct{})

	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(conn, "CONNECT slow.example:443 HTTP/1.1\r\n\r\n")
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	recs := p.recorder.waitFor(t, 1)
	if recs[0].Outcome != inventory.OutcomeRejected || !strings.Contains(recs[0].Error, errClientGone.Error()) {
		t.Errorf("record = %+v, want rejected with client gone", recs[0])
	}

	close(p.issuer.gate)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := p.cache.Lookup("slow.example"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("creation did not complete after the client left")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if p.issuer.calls.Load() != 1 {
		t.Errorf("issuer calls = %d, want 1", p.issuer.calls.Load())
	}
}

// TestServer_ShutdownClosesTunnels tests forced close after the drain timeout.
func TestServer_ShutdownClosesTunnels(t *testing.T) {
	echo := startEcho(t)
	p := startProxy(t, func(c *config.ProxyConfig) { c.Mode = "bypass" })

	conn, br, head := p.connect(t, echo)
	if head != responseEstablished {
		t.Fatalf("response = %q", head)
	}
	if p.srv.ActiveTunnels() != 1 {
		t.Fatalf("ActiveTunnels() = %d, want 1", p.srv.ActiveTunnels())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := br.ReadByte(); err == nil {
		t.Error("tunnel still open after shutdown")
	}
	if p.srv.IsRunning() {
		t.Error("server still running")
	}
	recs := p.recorder.waitFor(t, 1)
	if recs[0].Outcome != inventory.OutcomeCancelled {
		t.Errorf("outcome = %q, want cancelled", recs[0].Outcome)
	}
}

// gatedListener holds each accepted connection until release is closed.
type gatedListener struct {
	net.Listener
	accepted chan struct{}
	release  chan struct{}
}

func (l *gatedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.accepted <- struct{}{}
	<-l.release
	return conn, nil
}

// TestServer_ShutdownRefusesLateAccept tests that a connection accepted
// while Shutdown runs is closed unanswered instead of served.
func TestServer_ShutdownRefusesLateAccept(t *testing.T) {
	cfg := config.NewDefaultConfig().Proxy
	cfg.Mode = "bypass"
	srv, err := New(Deps{Config: cfg, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln := &gatedListener{Listener: inner, accepted: make(chan struct{}, 1), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	conn, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	io.WriteString(conn, "CONNECT 127.0.0.1:1 HTTP/1.1\r\n\r\n")

	select {
	case <-ln.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if srv.IsRunning() {
		t.Error("server still running after Shutdown")
	}
	close(ln.release)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, _ := io.ReadAll(conn)
	if len(got) != 0 {
		t.Errorf("late connection answered with %q", got)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Serve did not return")
	}
}

// TestServer_SetBypassDomains tests that a replaced bypass list applies to
// new tunnels.
func TestServer_SetBypassDomains(t *testing.T) {
	p := startProxy(t, nil)
	if p.srv.ModeFor("pinned.example") != ModeMITM {
		t.Fatal("pinned.example bypassed before update")
	}

	p.srv.SetBypassDomains([]string{"*.example"})
	if p.srv.ModeFor("pinned.example") != ModeBypass {
		t.Error("pinned.example not bypassed after update")
	}
	if p.srv.ModeFor("example") != ModeMITM {
		t.Error("suffix itself should still be intercepted")
	}

	p.srv.SetBypassDomains(nil)
	if p.srv.ModeFor("pinned.example") != ModeMITM {
		t.Error("pinned.example still bypassed after clearing the list")
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := config.NewDefaultConfig().Proxy

	cfg.Mode = "sideways"
	if _, err := New(Deps{Config: cfg}); err == nil {
		t.Error("expected error for unknown mode")
	}

	cfg.Mode = "mitm"
	if _, err := New(Deps{Config: cfg}); err == nil {
		t.Error("expected error for mitm without cache")
	}

	cfg.Mode = "bypass"
	if _, err := New(Deps{Config: cfg}); err != nil {
		t.Errorf("bypass without cache error = %v", err)
	}
}
