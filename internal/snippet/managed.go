package snippet

import (
	"strings"
	"time"
)

// ManagedFile is a subject-keyed standalone file (for example a site
// verification file) managed through the same validated-write pipeline as
// location content.
type ManagedFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"content"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TextualContentType reports whether a managed file's content type is
// textual, and therefore subject to content sanitation on write.
func TextualContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json", "application/javascript", "application/xml":
		return true
	}
	return false
}
