// Package proxy implements the CONNECT frontend.
//
// A Server accepts raw TCP connections and decodes exactly one CONNECT
// request head from each. The target is resolved before anything is
// written back: in mitm mode the domain's endpoint is fetched from (or
// created by) the endpoint cache, in bypass mode the origin is dialed.
// Only then does the client receive "200 Connection Established"; a head
// that cannot be decoded gets "400 Bad Request" and a target that cannot
// be resolved gets "502 Bad Gateway".
//
// # Interception
//
// Every mitm tunnel is bridged through an in-memory pipe into one shared
// Terminator, an http.Server behind a TLS listener whose GetCertificate
// callback picks the leaf by SNI. A handshake without SNI, or naming the
// CONNECT domain, uses the tunnel's own endpoint; any other name goes
// through the cache. Decrypted requests are served by the configured
// handler, normally forward.Handler.
//
// # Bypass
//
// Domains matching proxy.bypass_domains, or every domain when the server
// runs in bypass mode, are relayed to the origin without interception.
//
// # Lifecycle
//
//	srv, err := proxy.New(proxy.Deps{Config: cfg.Proxy, Cache: cache, Handler: h})
//	if err != nil {
//	    return err
//	}
//	return srv.ListenAndServe(ctx) // returns after ctx ends and tunnels drain
package proxy
