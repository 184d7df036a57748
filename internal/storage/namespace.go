package storage

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// namespaceRegistry maps legacy caller identifiers to short key prefixes.
// The table is fixed: legacy callers were migrated one at a time and each
// kept the prefix its data was written under.
var namespaceRegistry = map[string]string{
	"knowledge_base":     "kb",
	"session_manager":    "sess",
	"experience_tracker": "exp",
	"context_monitor":    "ctx",
	"trust_auth":         "trust",
	"speech_agent":       "spch",
	"translation_agent":  "trans",
	"routing_agent":      "route",
	"monitor":            "mon",
	"default":            "def",
}

// PrefixFor returns the registered short prefix for a namespace. Unknown
// namespaces get a deterministic fnv-derived prefix so two callers that were
// never registered still cannot collide with a registered one.
func PrefixFor(namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	if p, ok := namespaceRegistry[namespace]; ok {
		return p
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(namespace))
	return fmt.Sprintf("x%08x", h.Sum32())
}

// BuildKey prepends the namespace prefix to a raw key.
func BuildKey(namespace, key string) string {
	return PrefixFor(namespace) + ":" + key
}

// StripKey removes the namespace prefix from a namespaced key. The second
// return is false when the key does not belong to the namespace.
func StripKey(namespace, namespacedKey string) (string, bool) {
	prefix := PrefixFor(namespace) + ":"
	if !strings.HasPrefix(namespacedKey, prefix) {
		return "", false
	}
	return namespacedKey[len(prefix):], true
}
