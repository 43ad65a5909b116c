package sca

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint reduces a user agent to the traits that stay stable across
// browser updates: browser family, OS, platform and form factor.
func Fingerprint(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	traits := strings.Join([]string{
		browser,
		ua.OS(),
		ua.Platform(),
		strconv.FormatBool(ua.Mobile()),
		strconv.FormatBool(ua.Bot()),
	}, "|")
	sum := blake2b.Sum256([]byte(traits))
	return hex.EncodeToString(sum[:16])
}
