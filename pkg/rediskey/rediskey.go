package rediskey

import "fmt"

// Review keys (global convention across services)
const (
	InflightPrefix = "review:inflight"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildInflightKey returns "review:inflight:{scope}"
func BuildInflightKey(scope string) string {
	return NamespaceKey(InflightPrefix, scope)
}

// BuildDailySequenceKey returns "seq:{prefix}:{yymmdd}"
func BuildDailySequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}
