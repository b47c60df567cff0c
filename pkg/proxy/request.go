package proxy

import (
	"bufio"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"mercator-hq/interpose/pkg/issuer"
)

// connectLine matches "CONNECT host:port HTTP/1.x". IPv6 hosts are bracketed.
var connectLine = regexp.MustCompile(`^CONNECT (\[[0-9A-Fa-f:.]+\]|[^\s:\[\]]+):([0-9]{1,5}) HTTP/1\.[01]$`)

var errHeadTooLarge = errors.New("request head too large")

// ConnectRequest is a decoded CONNECT request head.
type ConnectRequest struct {
	// Host is the normalized target host
	Host string

	// Port is the target port
	Port int

	// Header holds the request's header fields
	Header http.Header
}

// ReadConnect decodes a CONNECT request head from br, reading no more than
// maxBytes. Bytes after the terminating blank line stay in br.
func ReadConnect(br *bufio.Reader, maxBytes int) (*ConnectRequest, error) {
	budget := maxBytes

	line, err := readLine(br, &budget)
	if err != nil {
		return nil, headError(err)
	}

	m := connectLine.FindStringSubmatch(line)
	if m == nil {
		return nil, &ProtocolError{Reason: ReasonBadRequestLine, Line: line}
	}

	host, err := issuer.NormalizeDomain(m[1])
	if err != nil {
		return nil, &ProtocolError{Reason: ReasonBadHost, Line: line, Err: err}
	}
	port, err := strconv.Atoi(m[2])
	if err != nil || port < 1 || port > 65535 {
		return nil, &ProtocolError{Reason: ReasonBadPort, Line: line}
	}

	header := make(http.Header)
	for {
		field, err := readLine(br, &budget)
		if err != nil {
			return nil, headError(err)
		}
		if field == "" {
			break
		}
		name, value, ok := strings.Cut(field, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, &ProtocolError{Reason: ReasonBadHeader, Line: field}
		}
		header.Add(name, strings.TrimSpace(value))
	}

	return &ConnectRequest{Host: host, Port: port, Header: header}, nil
}

// readLine returns one CRLF- or LF-terminated line without its terminator.
func readLine(br *bufio.Reader, budget *int) (string, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return "", errHeadTooLarge
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", err
		}
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func headError(err error) error {
	if errors.Is(err, errHeadTooLarge) {
		return &ProtocolError{Reason: ReasonHeadTooLarge, Err: err}
	}
	if isTimeout(err) {
		return &ProtocolError{Reason: ReasonHeaderTimeout, Err: err}
	}
	return &ProtocolError{Reason: ReasonIncompleteHead, Err: err}
}
