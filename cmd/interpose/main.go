// Command interpose is a TLS-intercepting CONNECT proxy.
//
// Usage:
//
//	interpose run [--config interpose.yaml] [--listen addr] [--mode mitm|bypass]
//	interpose ca init|info|export
//	interpose certs issue|info|validate|list
//	interpose tunnels list
//	interpose version
//
// Clients point their HTTPS proxy at the listen address and trust the root
// certificate printed by "interpose ca export" (or served by the admin
// server at /ca.pem).
package main

import "os"

func main() {
	os.Exit(Execute())
}
