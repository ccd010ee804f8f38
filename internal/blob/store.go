package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
)

// tmpDir holds uploads while they are hashed. The leading dot keeps it out
// of the hash namespace.
const tmpDir = ".tmp"

// ErrNotFound is returned when no blob is stored under a hash.
var ErrNotFound = errors.New("blob not found")

// Ref identifies stored content.
type Ref struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Store is a deduplicating blob store keyed by content hash. Blobs live
// flat under the root directory, named by their hex digest.
//
// Concurrent Puts of the same content are safe: each upload is written to
// its own temp file and only installed if no canonical blob exists yet.
// A losing writer discards its copy; it never overwrites. A canonical
// blob only appears once its bytes are fully written and synced.
type Store struct {
	root      string
	algorithm string
	newHash   func() hash.Hash
}

// NewStore creates a Store rooted at dir using the named hash algorithm
// ("sha256" or "blake3"). The directory structure is created if missing.
func NewStore(dir, algorithm string) (*Store, error) {
	newHash, err := newHasher(algorithm)
	if err != nil {
		return nil, err
	}
	for _, d := range []string{dir, filepath.Join(dir, tmpDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", d, err)
		}
	}
	if algorithm == "" {
		algorithm = "sha256"
	}
	return &Store{root: dir, algorithm: algorithm, newHash: newHash}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Algorithm returns the configured hash algorithm name.
func (s *Store) Algorithm() string { return s.algorithm }

// Put streams r once, hashing while writing to a temp file, then installs
// the bytes under their hash. If the hash is already stored the new copy
// is discarded. Either way the returned Ref is the same.
func (s *Store) Put(ctx context.Context, r io.Reader) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "upload-*")
	if err != nil {
		return Ref{}, fmt.Errorf("creating temp upload file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// The temp name never survives; a successful install is a second link.
	defer os.Remove(tmpPath)

	h := s.newHash()
	size, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		tmpFile.Close()
		return Ref{}, fmt.Errorf("writing upload: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return Ref{}, fmt.Errorf("syncing upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return Ref{}, fmt.Errorf("closing upload: %w", err)
	}

	ref := Ref{Hash: hex.EncodeToString(h.Sum(nil)), Size: size}
	finalPath := s.path(ref.Hash)

	// Same content produces the same hash: the existing blob is identical
	// by construction, so dropping ours is success.
	if _, err := os.Stat(finalPath); err == nil {
		return ref, nil
	}

	// Link never replaces an existing name, so a concurrent upload of the
	// same bytes that installed first wins and this one becomes a no-op.
	if err := os.Link(tmpPath, finalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ref, nil
		}
		return Ref{}, fmt.Errorf("installing blob %s: %w", ref.Hash, err)
	}

	return ref, nil
}

// Exists reports whether a blob is stored under hash.
func (s *Store) Exists(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	info, err := os.Stat(s.path(hash))
	return err == nil && info.Mode().IsRegular()
}

// Open returns the stored bytes for hash. Returns ErrNotFound (wrapped)
// for unknown or malformed hashes. The caller must close the file.
func (s *Store) Open(hash string) (*os.File, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", ErrNotFound, hash)
	}
	f, err := os.Open(s.path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("opening blob %s: %w", hash, err)
	}
	return f, nil
}

// Stat returns the size of the stored blob.
func (s *Store) Stat(hash string) (Ref, error) {
	if !ValidHash(hash) {
		return Ref{}, fmt.Errorf("%w: malformed hash %q", ErrNotFound, hash)
	}
	info, err := os.Stat(s.path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return Ref{}, fmt.Errorf("stating blob %s: %w", hash, err)
	}
	return Ref{Hash: hash, Size: info.Size()}, nil
}

// IsNotFound returns true if err means the blob does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.root, hash)
}
