package license

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"licensegate/internal/security"
)

// StorageError reports a failure of the underlying credential medium.
// Callers must treat a StorageError on read as equivalent to "absent" (fail
// closed, not open) and must surface a StorageError on write rather than
// silently discarding it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("license storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store persists the installation's single license record. Implementations
// must make Clear idempotent: clearing an absent record is not an error.
type Store interface {
	// Get returns the stored record, or (nil, nil) when no record exists.
	Get() (*Record, error)
	Put(rec *Record) error
	Clear() error
}

// MemoryStore is an in-process Store for tests and ephemeral hosts.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	cp := *s.rec
	return &cp, nil
}

func (s *MemoryStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.rec = &cp
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

// FileStore persists the record as an AES-256-GCM encrypted JSON document on
// disk. The encryption key is derived from a caller-supplied secret, which
// should be bound to the installation (for example the application salt
// combined with the machine fingerprint) so a copied file is useless on
// another machine.
type FileStore struct {
	path   string
	secret []byte
	mu     sync.Mutex
}

// NewFileStore creates a file-backed store. The file is created lazily on
// the first Put.
func NewFileStore(path string, secret []byte) *FileStore {
	return &FileStore{path: path, secret: secret}
}

// Path returns the location of the license file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}

	plaintext, err := security.Decrypt(data, s.secret)
	if err != nil {
		return nil, &StorageError{Op: "decrypt", Err: err}
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}

	return &rec, nil
}

func (s *FileStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}

	data, err := security.Encrypt(plaintext, s.secret)
	if err != nil {
		return &StorageError{Op: "encrypt", Err: err}
	}

	// Write to a temp file in the same directory and rename so a crash mid
	// write never leaves a truncated license file behind.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "write", Err: err}
	}

	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

// SecretBackend is the minimal key-value contract a host-provided secret
// vault must satisfy for the record to live there instead of on disk.
type SecretBackend interface {
	GetSecret(name string) (value string, found bool, err error)
	SetSecret(name, value string) error
	DeleteSecret(name string) error
}

// SecretStore persists the record as a flat JSON string in a host secret
// vault, under an installation-scoped namespace key.
type SecretStore struct {
	backend   SecretBackend
	namespace string
	mu        sync.Mutex
}

// NewSecretStore creates a store over the given backend. The namespace keys
// the record within the vault, e.g. "licensegate.license".
func NewSecretStore(backend SecretBackend, namespace string) *SecretStore {
	return &SecretStore{backend: backend, namespace: namespace}
}

func (s *SecretStore) Get() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found, err := s.backend.GetSecret(s.namespace)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	if !found || value == "" {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}
	return &rec, nil
}

func (s *SecretStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}
	if err := s.backend.SetSecret(s.namespace, string(data)); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

func (s *SecretStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.DeleteSecret(s.namespace); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}
