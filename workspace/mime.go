package workspace

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	mimeTextPrefix  = "text/"
	mimeAppJSON     = "application/json"
	mimeSuffixJSON  = "+json"
	mimeOctetStream = "application/octet-stream"
)

// ContentType resolves a best-effort MIME type for an artifact:
// extension lookup first, then content sniffing over the first bytes.
// The container-produced stdout/stderr files have no extension and
// sniff as text.
func ContentType(name string, head []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(head) == 0 {
		return mimeOctetStream
	}
	return http.DetectContentType(head)
}

// IsTextMIME reports whether mimeType describes a text format that is
// safe to inline as UTF-8 text.
func IsTextMIME(mimeType string) bool {
	mt := strings.TrimSpace(mimeType)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if strings.HasPrefix(mt, mimeTextPrefix) {
		return true
	}
	if mt == mimeAppJSON {
		return true
	}
	return strings.HasSuffix(mt, mimeSuffixJSON)
}
