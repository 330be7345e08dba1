package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// Counter for sequential variant directory names
	idCounter uint64

	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// GenerateSessionID returns a random session identifier.
func GenerateSessionID() string {
	return "ses-" + uuid.NewString()
}

// VariantDirName builds a filesystem-safe, unique directory name for a
// variant from its sequence number and assignment key.
func VariantDirName(seq int, key string) string {
	count := atomic.AddUint64(&idCounter, 1)
	slug := unsafePathChars.ReplaceAllString(key, "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 48 {
		slug = slug[:48]
	}
	if slug == "" {
		return fmt.Sprintf("v%04d-%x", seq, count)
	}
	return fmt.Sprintf("v%04d-%s-%x", seq, slug, count)
}
