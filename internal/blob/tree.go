package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// sniffLen is how many leading bytes are inspected to guess a MIME type.
const sniffLen = 512

// Upload is one file attached to a request.
type Upload struct {
	Name string // Display name supplied by the client
	MIME string // Declared type; sniffed from content when empty
	Open func() (io.ReadCloser, error)
}

// FileRef replaces an upload inside a message payload. Only the hash
// locates the bytes; the name is display metadata.
type FileRef struct {
	Hash string `json:"hash"`
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// Node is a tree of uploads keyed the way the request named them. Exactly
// one of File, Fields or Items is set.
type Node struct {
	File   *Upload
	Fields map[string]*Node
	Items  []*Node
}

// Leaf wraps a single upload.
func Leaf(u Upload) *Node { return &Node{File: &u} }

// Ingest stores a single upload and returns its reference.
func (s *Store) Ingest(ctx context.Context, u Upload) (FileRef, error) {
	if u.Open == nil {
		return FileRef{}, fmt.Errorf("upload %q has no content", u.Name)
	}
	rc, err := u.Open()
	if err != nil {
		return FileRef{}, fmt.Errorf("opening upload %q: %w", u.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	mime := u.MIME
	if mime == "" || mime == "application/octet-stream" {
		br := bufio.NewReaderSize(rc, sniffLen)
		head, err := br.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return FileRef{}, fmt.Errorf("reading upload %q: %w", u.Name, err)
		}
		mime = http.DetectContentType(head)
		r = br
	}

	ref, err := s.Put(ctx, r)
	if err != nil {
		return FileRef{}, fmt.Errorf("storing upload %q: %w", u.Name, err)
	}

	return FileRef{Hash: ref.Hash, Name: u.Name, MIME: mime, Size: ref.Size}, nil
}

// Walk ingests every upload in the tree and returns a parallel structure
// built from map[string]any, []any and FileRef. A leaf that fails becomes
// nil; its siblings are still stored. The returned error joins every leaf
// failure, each prefixed with the field path.
func (s *Store) Walk(ctx context.Context, n *Node) (any, error) {
	var errs []error
	out := s.walk(ctx, n, "", &errs)
	return out, errors.Join(errs...)
}

func (s *Store) walk(ctx context.Context, n *Node, path string, errs *[]error) any {
	switch {
	case n == nil:
		return nil

	case n.File != nil:
		ref, err := s.Ingest(ctx, *n.File)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", displayPath(path), err))
			return nil
		}
		return ref

	case n.Fields != nil:
		out := make(map[string]any, len(n.Fields))
		// Sorted for deterministic error ordering.
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = s.walk(ctx, n.Fields[k], childPath(path, k), errs)
		}
		return out

	case n.Items != nil:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = s.walk(ctx, item, childPath(path, fmt.Sprint(i)), errs)
		}
		return out
	}

	return nil
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "[" + key + "]"
}

func displayPath(p string) string {
	if p == "" {
		return "(root)"
	}
	return p
}
