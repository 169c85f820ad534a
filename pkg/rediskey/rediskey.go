package rediskey

import "fmt"

const (
	RateLimitPrefix = "ratelimit"
	SequencePrefix  = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUserRateKey returns "ratelimit:user:{userID}".
func BuildUserRateKey(userID string) string {
	return NamespaceKey(RateLimitPrefix, NamespaceKey("user", userID))
}

// BuildIPRateKey returns "ratelimit:ip:{ip}".
func BuildIPRateKey(ip string) string {
	return NamespaceKey(RateLimitPrefix, NamespaceKey("ip", ip))
}

// BuildSequenceKey returns "seq:{prefix}:{day}".
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, NamespaceKey(prefix, day))
}
