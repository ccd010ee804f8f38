package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func newTestStore(t *testing.T, algorithm string) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), algorithm)
	require.NoError(t, err)
	return s
}

// blobCount counts canonical blobs, ignoring the temp directory.
func blobCount(t *testing.T, s *Store) int {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func tmpCount(t *testing.T, s *Store) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(s.Root(), tmpDir))
	require.NoError(t, err)
	return len(entries)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestNewStore(t *testing.T) {
	t.Run("creates directories", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "uploads")
		s, err := NewStore(dir, "sha256")
		require.NoError(t, err)
		assert.DirExists(t, filepath.Join(dir, tmpDir))
		assert.Equal(t, "sha256", s.Algorithm())
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := NewStore(t.TempDir(), "md5")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported hash algorithm")
	})
}

func TestPut(t *testing.T) {
	ctx := context.Background()

	t.Run("stores content under its sha256", func(t *testing.T) {
		s := newTestStore(t, "sha256")
		data := []byte("hello gateway")

		ref, err := s.Put(ctx, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, sha256Hex(data), ref.Hash)
		assert.Equal(t, int64(len(data)), ref.Size)
		assert.True(t, s.Exists(ref.Hash))

		f, err := s.Open(ref.Hash)
		require.NoError(t, err)
		defer f.Close()
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("stores content under its blake3", func(t *testing.T) {
		s := newTestStore(t, "blake3")
		data := []byte("hello gateway")

		ref, err := s.Put(ctx, bytes.NewReader(data))
		require.NoError(t, err)

		sum := blake3.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), ref.Hash)
		assert.Len(t, ref.Hash, hashSize)
	})

	t.Run("identical bytes collapse to one blob", func(t *testing.T) {
		s := newTestStore(t, "sha256")

		first, err := s.Put(ctx, strings.NewReader("same bytes"))
		require.NoError(t, err)
		second, err := s.Put(ctx, strings.NewReader("same bytes"))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, blobCount(t, s))
		assert.Equal(t, 0, tmpCount(t, s), "duplicate temp upload must be discarded")
	})

	t.Run("empty content is storable", func(t *testing.T) {
		s := newTestStore(t, "sha256")
		ref, err := s.Put(ctx, bytes.NewReader(nil))
		require.NoError(t, err)
		assert.Equal(t, sha256Hex(nil), ref.Hash)
		assert.Equal(t, int64(0), ref.Size)
	})

	t.Run("read failure registers nothing", func(t *testing.T) {
		s := newTestStore(t, "sha256")
		r := io.MultiReader(strings.NewReader("partial"), errReader{errors.New("disk gone")})

		_, err := s.Put(ctx, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk gone")
		assert.Equal(t, 0, blobCount(t, s))
		assert.Equal(t, 0, tmpCount(t, s))
	})

	t.Run("cancelled context stores nothing", func(t *testing.T) {
		s := newTestStore(t, "sha256")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.Put(cctx, strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, blobCount(t, s))
	})
}

func TestPut_ConcurrentIdenticalUploads(t *testing.T) {
	s := newTestStore(t, "sha256")
	data := bytes.Repeat([]byte("concurrent"), 10000)

	var wg sync.WaitGroup
	refs := make([]Ref, 16)
	errs := make([]error, 16)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = s.Put(context.Background(), bytes.NewReader(data))
		}(i)
	}
	wg.Wait()

	for i := range refs {
		require.NoError(t, errs[i])
		assert.Equal(t, refs[0], refs[i])
	}
	assert.Equal(t, 1, blobCount(t, s))
	assert.Equal(t, 0, tmpCount(t, s))

	f, err := s.Open(refs[0].Hash)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOpen(t *testing.T) {
	s := newTestStore(t, "sha256")

	t.Run("unknown hash", func(t *testing.T) {
		_, err := s.Open(sha256Hex([]byte("never stored")))
		assert.True(t, IsNotFound(err))
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := s.Open("../../etc/passwd")
		assert.True(t, IsNotFound(err))
		assert.False(t, s.Exists("../../etc/passwd"))
	})

	t.Run("temp directory is not a blob", func(t *testing.T) {
		assert.False(t, s.Exists(tmpDir))
	})
}

func TestStat(t *testing.T) {
	s := newTestStore(t, "sha256")
	ref, err := s.Put(context.Background(), strings.NewReader("twelve bytes"))
	require.NoError(t, err)

	got, err := s.Stat(ref.Hash)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	_, err = s.Stat(sha256Hex([]byte("other")))
	assert.True(t, IsNotFound(err))
}

func TestValidHash(t *testing.T) {
	assert.True(t, ValidHash(sha256Hex([]byte("x"))))
	assert.False(t, ValidHash(strings.ToUpper(sha256Hex([]byte("x")))))
	assert.False(t, ValidHash("abc"))
	assert.False(t, ValidHash(strings.Repeat("g", hashSize)))
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
