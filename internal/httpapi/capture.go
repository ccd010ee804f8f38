package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
)

// capturedRequest is the message content published for a submission.
// Workers receive it verbatim; field names are part of the contract.
type capturedRequest struct {
	Client  []string            `json:"client"`
	URI     string              `json:"uri"`
	Method  string              `json:"method"`
	Header  map[string][]string `json:"header"`
	Query   map[string]any      `json:"query"`
	Request any                 `json:"request"`
	Cookies map[string]string   `json:"cookies"`
	Files   any                 `json:"files"`
}

// errBodyTooLarge is returned when a request body exceeds MaxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// capture reads r into a capturedRequest. Attached files are stored in the
// blob store first and replaced by their references; a file that fails to
// store becomes null and is logged, the rest of the request still goes out.
func (s *Server) capture(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	c := capturedRequest{
		Client:  clientIPs(r),
		URI:     requestURI(r),
		Method:  r.Method,
		Header:  make(map[string][]string, len(r.Header)),
		Query:   nestValues(r.URL.Query()),
		Cookies: make(map[string]string),
		Files:   map[string]any{},
	}
	for name, values := range r.Header {
		c.Header[strings.ToLower(name)] = values
	}
	for _, cookie := range r.Cookies() {
		c.Cookies[cookie.Name] = cookie.Value
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(s.opts.MaxMemoryBytes); err != nil {
			return nil, bodyError(err)
		}
		defer r.MultipartForm.RemoveAll()

		c.Request = nestValues(r.MultipartForm.Value)
		files, err := s.blobs.Walk(r.Context(), fileTree(r.MultipartForm.File))
		if err != nil {
			s.logger.Warnw("Some uploads could not be stored", "error", err)
		}
		c.Files = files

	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		c.Request = nestValues(r.PostForm)

	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		c.Request = decodeBody(mediaType, body)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// decodeBody keeps JSON bodies structured. Anything else travels as a
// string; the gateway does not interpret payloads.
func decodeBody(mediaType string, body []byte) any {
	if len(body) == 0 {
		return map[string]any{}
	}
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errBodyTooLarge
	}
	return fmt.Errorf("failed to read request body: %w", err)
}

func clientIPs(r *http.Request) []string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return []string{host}
}

func requestURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
