// Package recorder writes inventory records asynchronously.
//
// The endpoint cache reports every issued leaf through CertificateIssued and
// the proxy reports every finished tunnel through TunnelClosed. Both only
// enqueue; a single worker performs the storage writes. When the queue is
// full the record is dropped and counted in
// interpose_proxy_inventory_dropped_total rather than stalling a tunnel.
//
// Close drains the queue before returning, so records enqueued before
// shutdown are not lost.
package recorder
