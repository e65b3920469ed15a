// Package main (cmd/pairing-server) implements a development pairing service.
//
// The server issues client certificates against an in-process CA and returns
// a fixed broker endpoint, implementing the two pairing API endpoints the
// device agent consumes. The CA keypair is generated at startup and never
// persisted, so issued certificates are only verifiable within one server
// lifetime. Use it for local development and end-to-end testing of device
// provisioning; it is not a production pairing service.
//
// Example usage:
//
//	pairing-server \
//	  --listen-addr 127.0.0.1:8443 \
//	  --realm factory \
//	  --credentials-secret $SECRET \
//	  --broker-url mqtts://broker.local:8883
package main
