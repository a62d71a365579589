package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixHealth is the prefix for health snapshot keys
	KeyPrefixHealth = "noteparser:health:"
	// KeyPrefixChecks is the prefix for health check counter hashes
	KeyPrefixChecks = "noteparser:checks:"
	// KeyAllHealth is the key for the set of all service names with a snapshot
	KeyAllHealth = "noteparser:health:all"
)

// HealthKey returns the Redis key for a service health snapshot
func HealthKey(service string) string {
	return KeyPrefixHealth + service
}

// ChecksKey returns the Redis key of the check counters of a service
func ChecksKey(service string) string {
	return KeyPrefixChecks + service
}

// AllHealthKey returns the key for the set of all service names
func AllHealthKey() string {
	return KeyAllHealth
}

// ExtractServiceName extracts the service name from a snapshot key
func ExtractServiceName(key string) (string, error) {
	if key == KeyAllHealth || !strings.HasPrefix(key, KeyPrefixHealth) || len(key) == len(KeyPrefixHealth) {
		return "", fmt.Errorf("invalid health key: %s", key)
	}
	return key[len(KeyPrefixHealth):], nil
}
