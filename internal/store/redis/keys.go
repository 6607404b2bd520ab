package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixService is the prefix for service status keys
	KeyPrefixService = "stackwatch:service:"
	// KeyAllServices is the key for the set of all published service names
	KeyAllServices = "stackwatch:services:all"
	// ChannelEvents is the pub/sub channel carrying status events
	ChannelEvents = "stackwatch:events"
)

// ServiceKey returns the Redis key for a service status by name
func ServiceKey(name string) string {
	return KeyPrefixService + name
}

// AllServicesKey returns the key for the set of all service names
func AllServicesKey() string {
	return KeyAllServices
}

// ExtractServiceName extracts the service name from a Redis key
func ExtractServiceName(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixService) || len(key) == len(KeyPrefixService) {
		return "", fmt.Errorf("invalid service key: %s", key)
	}
	return key[len(KeyPrefixService):], nil
}
