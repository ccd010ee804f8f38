package httpapi

import (
	"io"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"github.com/dyluth/gateway/internal/blob"
)

// splitKey breaks a bracketed field name into its path:
//
//	user[address][city] -> user, address, city
//	tags[]              -> tags, ""   (empty segment = append)
//
// A name that does not parse is used whole.
func splitKey(key string) []string {
	i := strings.IndexByte(key, '[')
	if i <= 0 {
		return []string{key}
	}

	segs := []string{key[:i]}
	rest := key[i:]
	for len(rest) > 0 && rest[0] == '[' {
		j := strings.IndexByte(rest, ']')
		if j < 0 {
			return []string{key}
		}
		segs = append(segs, rest[1:j])
		rest = rest[j+1:]
	}
	return segs
}

// nestValues turns flat form values into nested maps and lists following
// the bracket syntax. A repeated plain name keeps its last value.
func nestValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for _, k := range sortedKeys(values) {
		segs := splitKey(k)
		for _, v := range values[k] {
			out[segs[0]] = assign(out[segs[0]], segs[1:], v)
		}
	}
	return out
}

// assign places v at path segs below c and returns the updated container.
func assign(c any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	if segs[0] == "" {
		list, _ := c.([]any)
		return append(list, assign(nil, segs[1:], v))
	}
	m, ok := c.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	m[segs[0]] = assign(m[segs[0]], segs[1:], v)
	return m
}

// fileTree arranges multipart files into a blob.Node tree with the same
// nesting rules as nestValues.
func fileTree(files map[string][]*multipart.FileHeader) *blob.Node {
	root := &blob.Node{Fields: make(map[string]*blob.Node, len(files))}
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		segs := splitKey(k)
		for _, fh := range files[k] {
			root.Fields[segs[0]] = assignNode(root.Fields[segs[0]], segs[1:], blob.Leaf(upload(fh)))
		}
	}
	return root
}

func assignNode(n *blob.Node, segs []string, leaf *blob.Node) *blob.Node {
	if len(segs) == 0 {
		return leaf
	}
	if segs[0] == "" {
		if n == nil || n.Items == nil {
			n = &blob.Node{Items: []*blob.Node{}}
		}
		n.Items = append(n.Items, assignNode(nil, segs[1:], leaf))
		return n
	}
	if n == nil || n.Fields == nil {
		n = &blob.Node{Fields: make(map[string]*blob.Node)}
	}
	n.Fields[segs[0]] = assignNode(n.Fields[segs[0]], segs[1:], leaf)
	return n
}

func upload(fh *multipart.FileHeader) blob.Upload {
	return blob.Upload{
		Name: fh.Filename,
		MIME: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
