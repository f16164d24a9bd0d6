package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/webhook-relay/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "relay-prod"}

	if got := c.resourceName("topics", "webhook-drain"); got != "projects/relay-prod/topics/webhook-drain" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := c.resourceName("subscriptions", " webhook-drain-sub "); got != "projects/relay-prod/subscriptions/webhook-drain-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}

	full := "projects/other/topics/already-qualified"
	if got := c.resourceName("topics", full); got != full {
		t.Fatalf("qualified topic should pass through, got %q", got)
	}
	if got := c.resourceName("topics", ""); got != "" {
		t.Fatalf("empty topic should yield empty name, got %q", got)
	}

	noProject := &Client{}
	if got := noProject.resourceName("subscriptions", "sub"); got != "" {
		t.Fatalf("missing project should yield empty name, got %q", got)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("topic") != nil {
		t.Fatal("nil client should not return a publisher")
	}
	if c.Subscription("sub") != nil {
		t.Fatal("nil client should not return a subscriber")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("ping on nil client should fail")
	}
}

func TestClientOptionsUseCredentialsFile(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{ProjectID: "relay-prod"}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	opts := clientOptions(config.GCPConfig{ProjectID: "relay-prod", ApplicationCredentials: " /secrets/sa.json "})
	if len(opts) != 1 {
		t.Fatalf("expected credentials option, got %d", len(opts))
	}
}
