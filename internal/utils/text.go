package utils

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// TruncateRunes returns the first max runes of s, followed by suffix when
// anything was cut. Rune-based so multi-byte text is never split.
func TruncateRunes(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + suffix
}

// DataURL encodes data as an RFC 2397 data URL.
func DataURL(contentType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// IsImageContentType reports whether a sniffed content type is an image.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
