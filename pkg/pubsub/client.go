package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub drain topic is required")
)

// NewClient creates a Pub/Sub v2 client and ensures the drain topic and, when
// configured, the drain subscription exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}

	if err := c.ensureConfigured(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

// clientOptions falls back to application default credentials when no key
// file is configured.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	path := strings.TrimSpace(gcp.ApplicationCredentials)
	if path == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(path)}
}

func (c *Client) ensureConfigured(ctx context.Context) error {
	topic := strings.TrimSpace(c.cfg.DrainTopic)
	if topic == "" {
		return errNoTopic
	}
	if err := c.ensureExists(ctx, "topics", topic); err != nil {
		return err
	}
	// publisher-only processes (the scheduler) run without a subscription
	if sub := strings.TrimSpace(c.cfg.DrainSubscription); sub != "" {
		return c.ensureExists(ctx, "subscriptions", sub)
	}
	return nil
}

// ensureExists looks the resource up with the v2 admin clients; a missing
// topic or subscription is a deployment error, not something to create here.
func (c *Client) ensureExists(ctx context.Context, kind, name string) error {
	fullName := c.resourceName(kind, name)
	if fullName == "" {
		return fmt.Errorf("%s %q not configured", kind, name)
	}
	var err error
	switch kind {
	case "topics":
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	default:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	}
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, fullName)
	case err != nil:
		return fmt.Errorf("checking %s %q: %w", kind, fullName, err)
	}
	return nil
}

// Subscription returns a subscriber for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("subscriptions", name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// DrainSubscription returns the drain-task subscriber, limited to
// MaxOutstanding tasks in flight.
func (c *Client) DrainSubscription() *pubsub.Subscriber {
	sub := c.Subscription(c.cfg.DrainSubscription)
	if sub != nil && c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	return sub
}

func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("topics", name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// DrainPublisher returns the drain-task publisher. Ticks emit few messages, so
// the batching delay is kept short.
func (c *Client) DrainPublisher() *pubsub.Publisher {
	pub := c.Publisher(c.cfg.DrainTopic)
	if pub != nil && c.cfg.PublishDelay > 0 {
		pub.PublishSettings.DelayThreshold = c.cfg.PublishDelay
	}
	return pub
}

// Ping checks the configured drain resources still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureConfigured(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName qualifies an ID as projects/<project>/<kind>/<id>. Names that
// are already qualified pass through.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	project := strings.TrimSpace(c.projectID)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + n
}
