// Package forward sends decrypted requests to their real origin.
//
// A Fetcher performs one origin round trip. Handler is the http.Handler
// mounted behind the TLS terminator: it turns each decrypted request into
// an absolute https request, strips hop-by-hop headers in both directions
// and streams the origin response back, answering 502 when the origin
// cannot be reached.
package forward
