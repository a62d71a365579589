// Package services holds what the concrete service handlers share: action
// dispatch and request field access.
package services

import (
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/noteparser/internal/client"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingField  = errors.New("missing required field")
)

// Action returns the "action" field of a request.
func Action(req client.Result) string {
	return req.Str("action")
}

// UnknownAction builds the error returned for an action a handler does not serve.
func UnknownAction(service, action string) error {
	if action == "" {
		return fmt.Errorf("%s: %w: action is empty", service, ErrUnknownAction)
	}
	return fmt.Errorf("%s: %w: %q", service, ErrUnknownAction, action)
}

// RequireString returns req[key] as a non-empty string.
func RequireString(req client.Result, key string) (string, error) {
	v := req.Str(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

// Int reads a numeric field. JSON numbers decode as float64, handlers built
// in code pass ints.
func Int(req client.Result, key string, def int) int {
	switch v := req[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Map reads a nested object field, or an empty map.
func Map(req client.Result, key string) map[string]any {
	if m, ok := req[key].(map[string]any); ok {
		return m
	}
	if m, ok := req[key].(client.Result); ok {
		return m
	}
	return map[string]any{}
}

// Strings reads a list of strings, skipping non-string items.
func Strings(req client.Result, key string) []string {
	switch v := req[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
