package policy

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// ValidationError reports a policy value rejected at the mutation API.
// Invalid values never reach enforcement.
type ValidationError struct {
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %q: %s", e.Value, e.Reason)
}

// Normalize canonicalizes a domain name: lowercased, punycode-encoded,
// no trailing dot. Returns a ValidationError for anything that is not a
// plausible host name.
func Normalize(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimPrefix(domain, "*.")

	if domain == "" {
		return "", &ValidationError{Value: raw, Reason: "empty domain"}
	}
	if strings.ContainsAny(domain, " \t/\\:@") {
		return "", &ValidationError{Value: raw, Reason: "contains illegal characters"}
	}

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", &ValidationError{Value: raw, Reason: fmt.Sprintf("punycode conversion failed: %v", err)}
	}

	if len(ascii) > maxDomainLength {
		return "", &ValidationError{Value: raw, Reason: fmt.Sprintf("exceeds %d characters", maxDomainLength)}
	}
	for _, label := range strings.Split(ascii, ".") {
		if label == "" {
			return "", &ValidationError{Value: raw, Reason: "empty label"}
		}
		if len(label) > maxLabelLength {
			return "", &ValidationError{Value: raw, Reason: fmt.Sprintf("label exceeds %d characters", maxLabelLength)}
		}
	}

	return ascii, nil
}
