package proxy

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/interpose/pkg/endpoint"
)

// Mode selects how a tunnel is served.
type Mode string

const (
	// ModeMITM terminates TLS with a minted leaf and forwards decrypted requests.
	ModeMITM Mode = "mitm"
	// ModeBypass relays the encrypted stream to the origin untouched.
	ModeBypass Mode = "bypass"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMITM, ModeBypass:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown proxy mode %q (want mitm or bypass)", s)
	}
}

// State is a tunnel's lifecycle stage.
type State int32

const (
	StateResolving State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tunnel is one accepted CONNECT.
type Tunnel struct {
	ID         string
	Domain     string
	Port       int
	Mode       Mode
	ClientAddr string
	StartedAt  time.Time

	// endpoint is set before the tunnel is handed to the terminator
	endpoint *endpoint.Endpoint

	// spanCtx parents the spans of requests decrypted on this tunnel
	spanCtx trace.SpanContext

	state    atomic.Int32
	requests atomic.Int64
}

// Target returns the origin authority, host:port.
func (t *Tunnel) Target() string {
	return net.JoinHostPort(t.Domain, strconv.Itoa(t.Port))
}

// State returns the current lifecycle stage.
func (t *Tunnel) State() State {
	return State(t.state.Load())
}

func (t *Tunnel) setState(s State) {
	t.state.Store(int32(s))
}

// Requests returns the number of decrypted requests served so far.
func (t *Tunnel) Requests() int64 {
	return t.requests.Load()
}

// TunnelInfo is a point-in-time view of an open tunnel.
type TunnelInfo struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Port       int       `json:"port"`
	Mode       Mode      `json:"mode"`
	ClientAddr string    `json:"client_addr"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
	Requests   int64     `json:"requests"`
}

func (t *Tunnel) info() TunnelInfo {
	return TunnelInfo{
		ID:         t.ID,
		Domain:     t.Domain,
		Port:       t.Port,
		Mode:       t.Mode,
		ClientAddr: t.ClientAddr,
		StartedAt:  t.StartedAt,
		State:      t.State().String(),
		Requests:   t.Requests(),
	}
}
