package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

func bodyHash(b []byte) string { s := sha256.Sum256(b); return hex.EncodeToString(s[:]) }

func nowUTC() time.Time { return time.Now().UTC() }

var reKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{7,127}$`)

// validKey accepts UUIDs, 32-hex ids and other opaque tokens of 8-128
// characters drawn from [A-Za-z0-9._:-].
func validKey(k string) bool {
	return reKey.MatchString(strings.TrimSpace(k))
}

func mutating(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return false
	}
	return true
}
