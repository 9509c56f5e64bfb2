package apierrors

import "strings"

// invalidCredentialSubstrings are the stable substrings that mark an
// add_credential failure as client-caused rather than an upstream or
// internal fault. English equivalents of the substrings the original
// implementation matched against localized upstream text — see DESIGN.md.
var invalidCredentialSubstrings = []string{
	"missing refresh-token",
	"empty refresh-token",
	"truncated refresh-token",
	"credential exists",
	"duplicate refresh-token",
	"expired or invalid",
	"permission denied",
	"rate limited",
}

var upstreamSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"dns",
	"tls",
	"eof",
	"no such host",
	"network is unreachable",
}

var notFoundSubstrings = []string{
	"not found",
}

func containsAny(s string, substrs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// ClassifyAdd classifies an add_credential failure per spec §4.4.
func ClassifyAdd(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	msg := err.Error()
	switch {
	case containsAny(msg, invalidCredentialSubstrings):
		return Wrap(InvalidInput, msg, err)
	case containsAny(msg, upstreamSubstrings):
		return Wrap(Upstream, msg, err)
	default:
		return Wrap(Internal, msg, err)
	}
}

// ClassifyBalance classifies a get_balance failure per spec §4.4.
func ClassifyBalance(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	msg := err.Error()
	switch {
	case containsAny(msg, notFoundSubstrings):
		return Wrap(NotFound, msg, err)
	case containsAny(msg, upstreamSubstrings):
		return Wrap(Upstream, msg, err)
	default:
		return Wrap(Internal, msg, err)
	}
}

// ClassifyLookup classifies delete/reset/set_priority failures: NotFound vs
// Internal only, per spec §4.4.
func ClassifyLookup(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	msg := err.Error()
	if containsAny(msg, notFoundSubstrings) {
		return Wrap(NotFound, msg, err)
	}
	return Wrap(Internal, msg, err)
}
