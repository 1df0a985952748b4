package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// plainKeys are never masked, whatever they contain.
var plainKeys = map[string]struct{}{
	"service": {}, "env": {}, "message": {}, "severity": {}, "timestamp": {},
	"error": {}, "reason": {}, "kind": {}, "component": {}, "vault": {},
	"step": {}, "phase": {}, "epoch": {}, "op_id": {}, "request_id": {},
}

// secretMarkers flag keys whose string values are masked automatically.
var secretMarkers = []string{"secret", "passphrase", "password", "token", "authorization", "private_key"}

// IsAllowlisted reports whether key is always logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

func isSecretKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := plainKeys[key]; ok {
		return false
	}
	for _, marker := range secretMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// MaskValue hides a non-empty value.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField logs key with its value hidden, unless the key is allowlisted.
// Use it for identifying values, such as depositor addresses, that are not
// caught by the automatic secret filter.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactAttr is applied to every attribute by the handlers Setup builds.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !isSecretKey(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
