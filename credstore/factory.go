package credstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
)

// Factory creates credential stores from location URI strings, selecting the
// backend by scheme.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a factory that can construct any of the supported
// credential store backends.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// CredentialStoreFor creates a credential store and its initial handle from a
// location URI. A construction failure here is fatal to session startup.
//
// Supported schemes:
//   - mem:// - in-memory storage, for tests and ephemeral deployments
//   - file:///path?secret=... - local filesystem, optional at-rest encryption
//   - vault://host:port/mount/path?token=...&scheme=https - HashiCorp Vault KV v2
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=...&endpoint=... - S3
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) CredentialStoreFor(locationURI string) (interfaces.CredentialStore, interfaces.Handle, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		store, handle := NewMemoryStore(f.log)
		return store, handle, nil
	case "file":
		return f.createFileStore(u)
	case "vault":
		return f.createVaultStore(u)
	case "s3":
		return f.createS3Store(u)
	default:
		return nil, nil, fmt.Errorf("unsupported credential store scheme: %s", u.Scheme)
	}
}

// createFileStore creates a file system credential store.
// URI format: file:///absolute/path?secret=passphrase
func (f *Factory) createFileStore(u *url.URL) (interfaces.CredentialStore, interfaces.Handle, error) {
	f.log.Debug("Creating file credential store", slog.String("uri", u.Path))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, nil, fmt.Errorf("%w: file URI has no path", interfaces.ErrInvalidLocationURI)
	}

	var opts FileStoreOptions
	if secret := u.Query().Get("secret"); secret != "" {
		opts.EncryptionSecret = []byte(secret)
	}

	return NewFileStore(path, opts, f.log)
}

// createVaultStore creates a Vault credential store.
// URI format: vault://host:port/mount/data-path?token=...&scheme=https
// The first path segment is the KV v2 mount, the rest is the data path.
func (f *Factory) createVaultStore(u *url.URL) (interfaces.CredentialStore, interfaces.Handle, error) {
	f.log.Debug("Creating Vault credential store", slog.String("host", u.Host))

	query := u.Query()
	scheme := query.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return nil, nil, fmt.Errorf("%w: vault URI needs /mount/data-path", interfaces.ErrInvalidLocationURI)
	}

	return NewVaultStore(address, query.Get("token"), segments[0], segments[1], f.log)
}

// createS3Store creates an S3 credential store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=minio.local:9000
func (f *Factory) createS3Store(u *url.URL) (interfaces.CredentialStore, interfaces.Handle, error) {
	f.log.Debug("Creating S3 credential store", slog.String("bucket", u.Host))

	bucketName := u.Host
	if bucketName == "" {
		return nil, nil, fmt.Errorf("%w: s3 URI has no bucket", interfaces.ErrInvalidLocationURI)
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}
