// Package pairing provides both sides of the pairing service wire contract:
// the HTTP Client used by devices (an interfaces.PairingAPI implementation)
// and a chi-based development Handler that signs CSRs with an in-process CA.
//
// The Client deliberately returns status codes and raw bodies instead of
// interpreting them; the provisioning state machine owns the decision of what
// counts as success. Only transport-level problems surface as errors.
package pairing
