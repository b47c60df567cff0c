package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Raw status responses written on the client socket. Each is a complete
// response with no body.
const (
	responseEstablished    = "HTTP/1.1 200 Connection Established\r\n\r\n"
	responseBadRequest     = "HTTP/1.1 400 Bad Request\r\n\r\n"
	responseRequestTimeout = "HTTP/1.1 408 Request Timeout\r\n\r\n"
	responseBadGateway     = "HTTP/1.1 502 Bad Gateway\r\n\r\n"
)

// Protocol error reasons, also used as metric labels.
const (
	ReasonBadRequestLine = "bad_request_line"
	ReasonBadHost        = "bad_host"
	ReasonBadPort        = "bad_port"
	ReasonBadHeader      = "bad_header"
	ReasonHeadTooLarge   = "head_too_large"
	ReasonHeaderTimeout  = "header_timeout"
	ReasonIncompleteHead = "incomplete_head"
)

// ProtocolError reports a CONNECT head that cannot be served. The client
// receives 400 Bad Request, or 408 Request Timeout when the head was not
// completed within the header timeout.
type ProtocolError struct {
	// Reason classifies the failure
	Reason string

	// Line is the offending line, when one was read
	Line string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "protocol error: " + e.Reason
	if e.Line != "" {
		msg += fmt.Sprintf(" (%q)", truncate(e.Line, 80))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain support.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a target that could not be resolved: a failed
// dial in bypass mode or a failed endpoint creation in mitm mode. The
// client receives 502 Bad Gateway.
type UpstreamError struct {
	// Op is "dial" or "endpoint"
	Op string

	// Target is the CONNECT authority
	Target string

	// Err is the underlying error
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusFor maps a frontend error to the status code sent to the client.
func StatusFor(err error) int {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		if protoErr.Reason == ReasonHeaderTimeout {
			return http.StatusRequestTimeout
		}
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func statusResponse(code int) string {
	switch code {
	case http.StatusBadRequest:
		return responseBadRequest
	case http.StatusRequestTimeout:
		return responseRequestTimeout
	default:
		return responseBadGateway
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
