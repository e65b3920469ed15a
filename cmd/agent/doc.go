// Package main (cmd/agent) implements the device provisioning agent.
//
// The agent drives a single device identity through credential provisioning:
// it generates a device keypair, obtains a client certificate from the
// pairing service, and discovers the broker endpoint the device should
// connect to. Credentials persist across restarts in a configurable store
// (in-memory, local file, Vault, or S3), so a device with a sufficiently
// fresh certificate reconnects without touching the pairing service.
//
// The agent retries failed steps forever at a fixed cadence (fast for local
// operations, slower for pairing service calls) and exposes status, liveness,
// and readiness endpoints over HTTP for operators and orchestrators. The
// readiness endpoint reports ready only once provisioning has completed.
//
// Example usage:
//
//	agent \
//	  --pairing-url https://pairing.example.com \
//	  --realm factory \
//	  --device-id Dq3QGPshTyqXTJxzebLk9A \
//	  --credentials-secret $SECRET \
//	  --credential-store file:///var/lib/agent/credentials
//
// The agent shuts down gracefully on SIGINT/SIGTERM.
package main
