package credstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// fileStoreKeyInfo is the HKDF info string binding derived keys to this use.
const fileStoreKeyInfo = "device-pairing-agent/credstore/file/v1"

// FileStoreOptions configures a file-backed credential store.
type FileStoreOptions struct {
	// EncryptionSecret, when non-empty, enables at-rest encryption of all
	// material with a key derived from it via HKDF-SHA256.
	EncryptionSecret []byte
}

// FileStore implements a credential store on the local file system. Each
// material kind is a single file under the base directory; writes go through
// a temp file plus rename so a save is either fully visible or absent.
type FileStore struct {
	baseDir string
	sealKey *[32]byte
	log     *slog.Logger
}

// NewFileStore creates a file-backed credential store rooted at baseDir,
// creating the directory if needed, and returns its initial handle.
func NewFileStore(baseDir string, opts FileStoreOptions, log *slog.Logger) (*FileStore, interfaces.Handle, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	store := &FileStore{baseDir: baseDir, log: log}

	if len(opts.EncryptionSecret) > 0 {
		var key [32]byte
		kdf := hkdf.New(sha256.New, opts.EncryptionSecret, nil, []byte(fileStoreKeyInfo))
		if _, err := io.ReadFull(kdf, key[:]); err != nil {
			return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		store.sealKey = &key
	}

	return store, storeHandle{}, nil
}

// HasKeypair reports whether both the private key and CSR files exist.
func (s *FileStore) HasKeypair(ctx context.Context, handle interfaces.Handle) (bool, error) {
	for _, kind := range []interfaces.MaterialKind{interfaces.PrivateKeyMaterial, interfaces.CSRMaterial} {
		if _, err := os.Stat(s.pathFor(kind)); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to stat %s: %w", kind, err)
		}
	}
	return true, nil
}

// Fetch reads (and, if configured, decrypts) the material file.
func (s *FileStore) Fetch(ctx context.Context, kind interfaces.MaterialKind, handle interfaces.Handle) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(kind))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrMaterialNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", kind, err)
	}

	if s.sealKey != nil {
		data, err = s.open(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", kind, err)
		}
	}

	s.log.Debug("Fetched credential material from file",
		slog.String("kind", kind.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes the material file atomically and returns the replacement handle.
func (s *FileStore) Save(ctx context.Context, kind interfaces.MaterialKind, data []byte, handle interfaces.Handle) (interfaces.Handle, error) {
	if s.sealKey != nil {
		sealed, err := s.seal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s: %w", kind, err)
		}
		data = sealed
	}

	target := s.pathFor(kind)
	tmp, err := os.CreateTemp(s.baseDir, "."+kind.String()+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write %s: %w", kind, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to chmod %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to persist %s: %w", kind, err)
	}

	s.log.Debug("Stored credential material in file",
		slog.String("kind", kind.String()),
		slog.String("path", target))

	return nextHandle(handle), nil
}

func (s *FileStore) pathFor(kind interfaces.MaterialKind) string {
	return filepath.Join(s.baseDir, kind.String()+".pem")
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, s.sealKey), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("sealed material too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, s.sealKey)
	if !ok {
		return nil, errors.New("sealed material authentication failed")
	}
	return plaintext, nil
}
