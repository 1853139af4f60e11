/*
Logic:  Derives a stable 16-hex-char identifier for an error event so
        that repeated occurrences of "the same" error group together
        regardless of incidental numeric/ID drift in the message.
        Normalization order is part of the contract: UUID -> IP ->
        digit-run -> lowercase, then a 64-bit non-cryptographic hash
        over the five salient fields joined by ":".
*/

package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	uuidPattern   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Pattern   = regexp.MustCompile(`(?i)\b(?:[0-9a-f]{1,4}:){2,7}[0-9a-f]{1,4}\b`)
	digitsPattern = regexp.MustCompile(`\d+`)
	hexFingerprint = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)
)

const (
	uuidSentinel = "<uuid>"
	ipSentinel   = "<ip>"
	numSentinel  = "<n>"
)

// Normalize applies the fixed-order message normalization: UUIDs, then
// IPv4/IPv6 addresses, then digit runs, then lowercasing. The order
// matters — reordering these passes changes the resulting fingerprint.
func Normalize(message string) string {
	s := uuidPattern.ReplaceAllString(message, uuidSentinel)
	s = ipv6Pattern.ReplaceAllString(s, ipSentinel)
	s = ipv4Pattern.ReplaceAllString(s, ipSentinel)
	s = digitsPattern.ReplaceAllString(s, numSentinel)
	return strings.ToLower(s)
}

// Derive computes the 16-hex-char fingerprint for an error event from
// its salient fields. route and topFrame may be empty strings.
func Derive(source, errorType, route, message, topFrame string) string {
	normalized := Normalize(message)
	joined := strings.Join([]string{source, errorType, route, normalized, topFrame}, ":")
	sum := xxhash.Sum64String(joined)
	return fmt.Sprintf("%016x", sum)
}

// ResolveOverride returns the fingerprint to use for an event: the
// client-supplied override if it parses as 16 hex characters
// (lowercased), otherwise the derived value.
func ResolveOverride(clientSupplied, derived string) string {
	if clientSupplied != "" && hexFingerprint.MatchString(clientSupplied) {
		return strings.ToLower(clientSupplied)
	}
	return derived
}
