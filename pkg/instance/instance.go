package instance

import (
	"os"

	"github.com/angelmondragon/webhook-relay/pkg/env"
)

const EnvWorkerID = "RELAY_WORKER_ID"

// GetID returns the worker instance identifier, falling back to the hostname.
func GetID() string {
	if id := env.First(EnvWorkerID); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
