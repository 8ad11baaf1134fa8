// Package validate implements C1: schema and semantic validation of RPC
// params, boundary type coercion, and JSON-Pointer-keyed error collection.
// See spec.md §4.1.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Problem is one {path, message} validation failure, keyed by a JSON
// Pointer into the submitted params object.
type Problem struct {
	Path    string
	Message string
}

// Errors collects validation Problems in encounter order. A non-empty
// Errors is itself an error (Error() joins the messages), letting handlers
// either report the whole list via JSON-RPC data, or short-circuit with
// errors.As.
type Errors []Problem

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, p := range e {
		parts[i] = fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *Errors) add(path, message string) {
	*e = append(*e, Problem{Path: path, Message: message})
}

var (
	profileNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9_\-]{0,29}[a-z0-9])?$`)
	usernameRe    = regexp.MustCompile(`^[A-Za-z0-9.\-@]{1,50}$`)
	apiKeyRe      = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,512}$`)
	langShortRe   = regexp.MustCompile(`^[A-Za-z]{2}$`)
	langFullRe    = regexp.MustCompile(`^[A-Za-z]{2}_[A-Za-z]{2}$`)
)

const maxDomainLength = 254
const maxLabelLength = 63

// Domain validates and IDNA-normalizes a domain name, returning the
// A-label (ASCII) form to store. The singleton "." is accepted as-is.
//
// The ASCII character-set check runs before idna.Lookup.ToASCII, not after:
// idna.Lookup enforces STD3 rules and rejects disallowed ASCII runes (a bare
// space, for instance) with its own "disallowed rune" error, which would
// otherwise mask the "not supported" message spec.md §4.1 mandates for that
// case behind the generic ASCII-conversion failure.
func Domain(raw string) (string, error) {
	if raw == "." {
		return ".", nil
	}
	if hasDisallowedASCIIRune(raw) {
		return "", fmt.Errorf("The domain name character(s) are not supported")
	}
	ascii, err := idna.Lookup.ToASCII(raw)
	if err != nil {
		return "", fmt.Errorf("The domain name could not be converted to its ASCII form")
	}
	if len(ascii) > maxDomainLength {
		return "", fmt.Errorf("The domain name is too long")
	}
	for _, label := range strings.Split(strings.TrimSuffix(ascii, "."), ".") {
		if len(label) > maxLabelLength {
			return "", fmt.Errorf("The domain name has a label that is too long")
		}
	}
	return ascii, nil
}

// hasDisallowedASCIIRune reports whether raw contains an ASCII character
// outside the letter/digit/'.'/'-'/'_' set. Non-ASCII runes are left to
// idna.Lookup.ToASCII to accept or reject as IDNA label content.
func hasDisallowedASCIIRune(raw string) bool {
	for _, r := range raw {
		if r >= 0x80 {
			continue
		}
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return true
		}
	}
	return false
}

// IP validates an IPv4 dotted-decimal address or an IPv6 address in
// recommended textual form.
func IP(raw string) error {
	if net.ParseIP(raw) == nil {
		return fmt.Errorf("Invalid IP address")
	}
	return nil
}

// Profile lowercases and validates a profile name against the syntax rule;
// membership in the configured profile set is checked by the caller
// (internal/rpc), which is where the "Unknown profile" message is emitted
// per spec.md §4.1.
func Profile(raw string) (string, error) {
	lower := strings.ToLower(raw)
	if !profileNameRe.MatchString(lower) {
		return "", fmt.Errorf("Invalid profile name")
	}
	return lower, nil
}

// Username checks the fixed username syntax (spec.md §3).
func Username(raw string) error {
	if !usernameRe.MatchString(raw) {
		return fmt.Errorf("Invalid username")
	}
	return nil
}

// APIKey checks the fixed api-key syntax (spec.md §3).
func APIKey(raw string) error {
	if !apiKeyRe.MatchString(raw) {
		return fmt.Errorf("Invalid api key")
	}
	return nil
}

// LanguageTag checks the two- or five-character syntax; membership in the
// configured locale set is checked by the caller.
func LanguageTag(raw string) error {
	if langShortRe.MatchString(raw) || langFullRe.MatchString(raw) {
		return nil
	}
	return fmt.Errorf("Invalid language tag")
}

// DigestLength enumerates the three hex digest lengths ds_info accepts
// (SHA-1, SHA-256, SHA-384).
func DigestLength(hexDigest string) bool {
	switch len(hexDigest) {
	case 40, 64, 96:
		return true
	default:
		return false
	}
}

var hexRe = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// Digest validates a ds_info digest: hex-encoded, one of the three lengths.
func Digest(raw string) error {
	if !hexRe.MatchString(raw) || !DigestLength(raw) {
		return fmt.Errorf("Invalid DS digest")
	}
	return nil
}

// CoerceInt implements the documented boundary coercion: a JSON string of
// digits becomes an int, a fractional number rounds half-away-from-zero.
func CoerceInt(raw json.RawMessage) (int, error) {
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return int(asInt), nil
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return int(roundHalfAwayFromZero(asFloat)), nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		n, err := strconv.ParseInt(strings.TrimSpace(asString), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("Value is not an integer")
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("Value is not an integer")
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return math.Floor(f + 0.5)
	}
	return math.Ceil(f - 0.5)
}

// CoerceBool implements the documented loose boolean rule: the set
// {false, null, "", "0", 0} is false; everything else is true.
func CoerceBool(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "false", "null", `""`, `"0"`, "0":
		return false
	case "":
		return false
	default:
		return true
	}
}
