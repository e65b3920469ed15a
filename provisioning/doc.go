// Package provisioning implements the credential lifecycle state machine
// that bootstraps a device identity against a pairing service.
//
// A Session advances through four states:
//
//	no_keypair -> no_certificate -> waiting_for_info -> disconnected
//
// Entering no_keypair generates a keypair and CSR and saves both; entering
// no_certificate exchanges the stored CSR for a signed client certificate;
// entering waiting_for_info discovers the broker endpoint. The disconnected
// state is terminal for this engine: it means "ready to connect", and the
// transport layer takes over from there.
//
// Every storage or remote failure is transient. The failed step is retried
// on a fixed timer (5 s for the local keypair phase, 30 s for phases that
// depend on the remote service, swappable via RetryPolicy) and the session
// never gives up, because provisioning must eventually succeed without
// manual intervention once the backend recovers.
//
// A Session is a single-threaded actor: Run owns all state mutation, one
// transition at a time. Retry timers are single-shot, tagged with the state
// that armed them, and ignored if they fire after the machine has advanced.
package provisioning
