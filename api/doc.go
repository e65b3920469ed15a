// Package api defines the wire contract shared between devices and the
// pairing service: request and response schemas for the certificate exchange
// and device info endpoints, plus helpers that extract the fields the
// provisioning session cares about. The JSON shapes are interoperability
// contracts and must not change.
package api
