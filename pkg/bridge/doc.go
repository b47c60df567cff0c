// Package bridge relays bytes between a client connection and a target
// connection in both directions.
//
// Each direction is a read-then-write loop over a pooled, bounded buffer,
// so a slow reader on one side throttles the writer on the other. When
// either direction ends both connections are closed.
package bridge
