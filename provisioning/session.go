package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api"
	"github.com/attelo-iot/device-pairing-agent/cryptoutils"
	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"go.uber.org/atomic"
)

// DefaultOpTimeout bounds every single credential store or pairing service
// call so a hung collaborator cannot wedge the state machine.
const DefaultOpTimeout = 30 * time.Second

// Config carries the caller-supplied session parameters. All identity fields
// plus the store and pairing capabilities are required; missing any is a
// fatal construction error.
type Config struct {
	// PairingURL is the base URL of the pairing service. Informational for
	// the session itself; the PairingAPI implementation owns addressing.
	PairingURL string

	// Realm is the realm the device is registered in.
	Realm string

	// DeviceID is the canonical textual device identifier (16 bytes,
	// URL-safe base64 without padding).
	DeviceID string

	// CredentialsSecret authenticates the device to the pairing service.
	CredentialsSecret string

	// Protocol is the transport protocol to request connection info for.
	// Defaults to api.DefaultProtocol.
	Protocol string

	// KeyOptions configures key material generation. The zero value selects
	// RSA-4096.
	KeyOptions cryptoutils.KeyOptions

	// Retry shapes the per-state retry cadence. Defaults to
	// DefaultRetryPolicy.
	Retry RetryPolicy

	// OpTimeout bounds individual collaborator calls. Defaults to
	// DefaultOpTimeout.
	OpTimeout time.Duration

	// Store is the credential storage capability.
	Store interfaces.CredentialStore

	// Handle is the store handle obtained at store initialization.
	Handle interfaces.Handle

	// Pairing is the pairing service capability.
	Pairing interfaces.PairingAPI

	// OnTransition, when set, observes every state transition. It runs on
	// the session goroutine and must not block.
	OnTransition func(from, to State)

	// Log is the structured logger. Defaults to slog.Default.
	Log *slog.Logger
}

// Validate checks the configuration eagerly, returning the device identifier
// on success.
func (c *Config) Validate() (interfaces.DeviceID, error) {
	if c.PairingURL == "" {
		return interfaces.DeviceID{}, errors.New("pairing URL is required")
	}
	if c.Realm == "" {
		return interfaces.DeviceID{}, errors.New("realm is required")
	}
	if c.CredentialsSecret == "" {
		return interfaces.DeviceID{}, errors.New("credentials secret is required")
	}
	if c.Store == nil {
		return interfaces.DeviceID{}, errors.New("credential store is required")
	}
	if c.Handle == nil {
		return interfaces.DeviceID{}, errors.New("credential store handle is required")
	}
	if c.Pairing == nil {
		return interfaces.DeviceID{}, errors.New("pairing API is required")
	}

	device, err := interfaces.NewDeviceIDFromString(c.DeviceID)
	if err != nil {
		return interfaces.DeviceID{}, fmt.Errorf("device ID: %w", err)
	}
	return device, nil
}

// Session drives one device identity through credential provisioning. It is
// a single-threaded logical actor: all transitions run sequentially on the
// goroutine that calls Run, and a new trigger is never processed while a
// prior one is in flight. Run multiple Sessions for multiple devices; they
// share nothing.
type Session struct {
	cfg      Config
	device   interfaces.DeviceID
	clientID interfaces.ClientID
	store    interfaces.CredentialStore
	handle   interfaces.Handle
	pairing  interfaces.PairingAPI
	retry    RetryPolicy
	log      *slog.Logger

	state     atomic.Int32
	brokerURL atomic.String

	events chan event
	done   chan struct{}
	ready  chan struct{}
	timer  *time.Timer
}

// NewSession validates the configuration and creates a session. The session
// does nothing until Run is called.
func NewSession(cfg Config) (*Session, error) {
	device, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	if cfg.Protocol == "" {
		cfg.Protocol = api.DefaultProtocol
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	clientID := interfaces.NewClientID(cfg.Realm, device)

	return &Session{
		cfg:      cfg,
		device:   device,
		clientID: clientID,
		store:    cfg.Store,
		handle:   cfg.Handle,
		pairing:  cfg.Pairing,
		retry:    cfg.Retry,
		log:      cfg.Log.With("clientID", string(clientID)),
		events:   make(chan event, 1),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// BrokerURL returns the discovered broker endpoint. The second return is
// false until the info fetch has succeeded.
func (s *Session) BrokerURL() (string, bool) {
	url := s.brokerURL.Load()
	return url, url != ""
}

// Ready is closed when the session reaches the Disconnected state and the
// caller may open its transport connection.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// ClientID returns the session's immutable client identifier.
func (s *Session) ClientID() interfaces.ClientID {
	return s.clientID
}

// DeviceID returns the session's device identifier.
func (s *Session) DeviceID() interfaces.DeviceID {
	return s.device
}

// opCtx bounds a single collaborator call.
func (s *Session) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}
