package provisioning

import "time"

// RetryPolicy decides how long to wait before re-running the failed step of a
// given state. Every storage or remote failure is treated as transient; the
// session retries forever, so a policy only shapes the cadence.
type RetryPolicy interface {
	NextDelay(state State) time.Duration
}

// FixedDelays is the default retry policy: a constant delay per state class.
// The asymmetry between the local keypair phase and the remote phases
// reflects the expected recovery time of each failure class.
type FixedDelays struct {
	// Keypair applies to key generation and the two local saves.
	Keypair time.Duration

	// Credentials applies to the certificate exchange phase.
	Credentials time.Duration

	// Info applies to the connection info phase.
	Info time.Duration
}

// DefaultRetryPolicy returns the stock fixed delays: 5 seconds for local
// storage retries, 30 seconds for phases depending on the remote service.
func DefaultRetryPolicy() FixedDelays {
	return FixedDelays{
		Keypair:     5 * time.Second,
		Credentials: 30 * time.Second,
		Info:        30 * time.Second,
	}
}

// NextDelay implements RetryPolicy.
func (d FixedDelays) NextDelay(state State) time.Duration {
	switch state {
	case StateNoKeypair:
		return d.Keypair
	case StateNoCertificate:
		return d.Credentials
	case StateWaitingForInfo:
		return d.Info
	default:
		return 0
	}
}
