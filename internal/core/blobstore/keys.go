package blobstore

import (
	"fmt"
	"strings"
	"time"
)

// ObjectKey derives a stable, owner-scoped storage key for an uploaded file:
// {category}/{ownerID}/{unixMillis}-{sanitizedName}. The millisecond prefix
// keeps keys collision-resistant without a lookup table while the sanitized
// original name keeps them readable.
func ObjectKey(category, ownerID, filename string) string {
	return fmt.Sprintf("%s/%s/%d-%s", category, ownerID, time.Now().UnixMilli(), SanitizeName(filename))
}

// SanitizeName lower-cases the file name and replaces every character outside
// [a-z0-9.-] with '-'.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
