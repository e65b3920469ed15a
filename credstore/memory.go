package credstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
)

// MemoryStore implements an in-memory credential store. It backs tests and
// ephemeral deployments where credentials are re-provisioned on every start.
type MemoryStore struct {
	mu        sync.RWMutex
	materials map[interfaces.MaterialKind][]byte
	log       *slog.Logger
}

// NewMemoryStore creates an empty in-memory credential store and its initial
// handle.
func NewMemoryStore(log *slog.Logger) (*MemoryStore, interfaces.Handle) {
	return &MemoryStore{
		materials: make(map[interfaces.MaterialKind][]byte),
		log:       log,
	}, storeHandle{}
}

// HasKeypair reports whether both private key and CSR slots are populated.
func (s *MemoryStore) HasKeypair(ctx context.Context, handle interfaces.Handle) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, hasKey := s.materials[interfaces.PrivateKeyMaterial]
	_, hasCSR := s.materials[interfaces.CSRMaterial]
	return hasKey && hasCSR, nil
}

// Fetch retrieves a stored material copy.
func (s *MemoryStore) Fetch(ctx context.Context, kind interfaces.MaterialKind, handle interfaces.Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.materials[kind]
	if !ok {
		return nil, interfaces.ErrMaterialNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Save stores a material copy and returns the replacement handle.
func (s *MemoryStore) Save(ctx context.Context, kind interfaces.MaterialKind, data []byte, handle interfaces.Handle) (interfaces.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.materials[kind] = stored

	s.log.Debug("Stored credential material in memory",
		slog.String("kind", kind.String()),
		slog.Int("size", len(data)))

	return nextHandle(handle), nil
}
