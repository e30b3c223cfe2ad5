package utils

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const binarySniffLen = 8000

// IsBinaryContent reports whether data looks like binary rather than text.
// Same heuristic as git: a NUL byte in the first 8000 bytes means binary,
// and so does a chunk that is not valid UTF-8.
func IsBinaryContent(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) != -1 {
		return true
	}
	if len(data) > binarySniffLen {
		// the sniff window may end mid-rune; drop the truncated tail
		for i := 0; i < utf8.UTFMax && len(sniff) > 0; i++ {
			start := utf8.RuneStart(sniff[len(sniff)-1])
			sniff = sniff[:len(sniff)-1]
			if start {
				break
			}
		}
	}
	return !utf8.Valid(sniff)
}

func DetectContentType(key string) string {
	if isTextLike(key) {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func isTextLike(key string) bool {
	return strings.HasSuffix(key, ".yaml") ||
		strings.HasSuffix(key, ".yml") ||
		strings.HasSuffix(key, ".toml") ||
		strings.HasSuffix(key, ".md")
}
