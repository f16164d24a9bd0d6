package redis

import "strings"

const (
	keyNamespace      = "relay"
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
)

// IdempotencyKey namespaces a processed-task marker, e.g. relay:idempotency:drain:<task>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

// LockKey namespaces a scheduler lock per environment so staging and
// production can share one redis.
func (c *Client) LockKey(scope, env string) string {
	return buildKey(lockPrefix, scope, env)
}

func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}
