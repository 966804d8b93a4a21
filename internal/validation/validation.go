// Package validation implements the admission checks applied to
// createSession requests: codeUrl SSRF protection, command shell-metacharacter
// rejection, and length bounds, per spec §4.1 and the boundary behaviors and
// invariants listed in spec §8.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	maxCodeURLLen = 2048
	maxCommandLen = 1000
	maxPromptLen  = 10000
)

// forbiddenCommandPatterns block common shell command-substitution and
// process-substitution syntax so the validated command is never re-expanded
// by any shell between admission and the sandbox boot script.
var forbiddenCommandPatterns = []string{"$(", "`", "${", "<(", ">("}

// Request is the caller-supplied workload description for createSession.
type Request struct {
	CodeURL      string
	CodeChecksum string
	Command      string
	Prompt       string
}

// Error is a Validation-category error carrying a short machine-readable
// reason, per the §7 error taxonomy.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func fail(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// AllowedCodeDomains validates a hostname against the configured allowlist.
// Entries with a leading "*." match any subdomain (suffix match); other
// entries must match exactly.
type AllowedCodeDomains []string

// Allows reports whether host is permitted by the allowlist.
func (d AllowedCodeDomains) Allows(host string) bool {
	host = strings.ToLower(host)
	for _, entry := range d {
		entry = strings.ToLower(entry)
		if strings.HasPrefix(entry, "*.") {
			suffix := entry[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// Validate checks req against all admission rules. It returns a *Error
// (mapping to a 400 Validation response) on the first violation found.
func Validate(req Request, allowed AllowedCodeDomains) error {
	if err := validateCodeURL(req.CodeURL, allowed); err != nil {
		return err
	}
	if req.CodeChecksum != "" {
		if err := validateChecksum(req.CodeChecksum); err != nil {
			return err
		}
	}
	if err := validateCommand(req.Command); err != nil {
		return err
	}
	if len(req.Prompt) > maxPromptLen {
		return fail("prompt exceeds %d characters", maxPromptLen)
	}
	return nil
}

func validateCodeURL(raw string, allowed AllowedCodeDomains) error {
	if raw == "" {
		return fail("codeUrl is required")
	}
	if len(raw) > maxCodeURLLen {
		return fail("codeUrl exceeds %d characters", maxCodeURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fail("codeUrl is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fail("codeUrl must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fail("codeUrl must have a hostname")
	}
	if len(allowed) > 0 && !allowed.Allows(host) {
		return fail("codeUrl hostname %q is not in the allowed domain list", host)
	}
	if isPrivateOrLoopbackHost(host) {
		return fail("codeUrl hostname %q resolves to a private, loopback, or link-local address", host)
	}
	return nil
}

// isPrivateOrLoopbackHost blocks SSRF targets: literal private/loopback/
// link-local IPs, and well-known metadata-service hostnames. Hostnames are not
// resolved, so a name that resolves to a private address passes this check.
// The egress NetworkPolicy (internal/runner/netpol.go) allows 0.0.0.0/0 on its
// ports and does not exclude private ranges either.
func isPrivateOrLoopbackHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || lower == "metadata.google.internal" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

var hexDigits = "0123456789abcdef"

func validateChecksum(sum string) error {
	if len(sum) != 64 {
		return fail("codeChecksum must be exactly 64 hex characters")
	}
	for _, r := range strings.ToLower(sum) {
		if !strings.ContainsRune(hexDigits, r) {
			return fail("codeChecksum must be hex-encoded SHA-256")
		}
	}
	return nil
}

func validateCommand(cmd string) error {
	if cmd == "" {
		return fail("command is required")
	}
	if len(cmd) > maxCommandLen {
		return fail("command exceeds %d characters", maxCommandLen)
	}
	for _, pattern := range forbiddenCommandPatterns {
		if strings.Contains(cmd, pattern) {
			return fail("command contains a forbidden pattern: %q", pattern)
		}
	}
	return nil
}
