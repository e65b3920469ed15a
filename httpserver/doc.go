// Package httpserver implements the agent's observability endpoint: liveness
// and readiness probes plus a status resource describing the provisioning
// session's state and discovered broker endpoint. Readiness tracks both the
// session (ready means the credential set is complete) and an operator
// drain/undrain toggle.
package httpserver
