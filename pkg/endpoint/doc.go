// Package endpoint caches one termination endpoint per domain.
//
// The first lookup of a domain starts a single creation that every
// concurrent caller waits on. Failures are returned to those callers and
// forgotten, so the next lookup tries again. An endpoint whose leaf is
// about to expire is re-created through the same path while the old one
// keeps serving the tunnels already attached to it.
package endpoint
