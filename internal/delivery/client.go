package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/webhook-relay/internal/silo"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/enums"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

const thirdPartyDestination = "third_party"

type RegionResolver interface {
	Resolve(name string) (silo.Region, error)
}

type RegionRequester interface {
	Request(ctx context.Context, region silo.Region, req silo.Request) (*silo.Response, error)
}

type ThirdPartyPoster interface {
	Post(ctx context.Context, endpoint string, body []byte, headers map[string]string) (int, error)
}

// Deliverer performs one delivery attempt. It never retries.
type Deliverer interface {
	Deliver(ctx context.Context, payload *models.WebhookPayload) Outcome
}

// ClientParams configure the delivery client. ThirdParty may be nil when the
// third party destination is not configured.
type ClientParams struct {
	Logger           *logger.Logger
	Metrics          *metrics.DeliveryMetrics
	Regions          RegionResolver
	RegionClient     RegionRequester
	ThirdParty       ThirdPartyPoster
	ThirdPartyConfig config.ThirdPartyConfig
	Alerter          Alerter
}

// Client sends payloads to their destination and classifies the result once.
type Client struct {
	logg         *logger.Logger
	metrics      *metrics.DeliveryMetrics
	regions      RegionResolver
	regionClient RegionRequester
	thirdParty   ThirdPartyPoster
	thirdCfg     config.ThirdPartyConfig
	skipOwners   map[string]struct{}
	alerter      Alerter
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Regions == nil {
		return nil, errors.New("region resolver required")
	}
	if params.RegionClient == nil {
		return nil, errors.New("region client required")
	}
	alerter := params.Alerter
	if alerter == nil {
		alerter = LogAlerter{Logger: params.Logger}
	}
	skip := make(map[string]struct{}, len(params.ThirdPartyConfig.SkipOwners))
	for _, owner := range params.ThirdPartyConfig.SkipOwners {
		if owner = strings.TrimSpace(owner); owner != "" {
			skip[owner] = struct{}{}
		}
	}
	return &Client{
		logg:         params.Logger,
		metrics:      params.Metrics,
		regions:      params.Regions,
		regionClient: params.RegionClient,
		thirdParty:   params.ThirdParty,
		thirdCfg:     params.ThirdPartyConfig,
		skipOwners:   skip,
		alerter:      alerter,
	}, nil
}

func (c *Client) Deliver(ctx context.Context, payload *models.WebhookPayload) Outcome {
	switch payload.DestinationType {
	case enums.DestinationRegion:
		return c.deliverRegion(ctx, payload)
	case enums.DestinationThirdParty:
		return c.deliverThirdParty(ctx, payload)
	}
	return Outcome{
		Kind:   KindUnexpected,
		Reason: enums.FailureUnexpected,
		Err:    fmt.Errorf("payload %d has unknown destination type %q", payload.ID, payload.DestinationType),
	}
}

func (c *Client) attemptFields(payload *models.WebhookPayload) map[string]any {
	return map[string]any{
		"payload_id":     payload.ID,
		"mailbox_name":   payload.MailboxName,
		"attempt":        payload.Attempts,
		"request_method": payload.RequestMethod,
		"request_path":   payload.RequestPath,
	}
}

func (c *Client) deliverRegion(ctx context.Context, payload *models.WebhookPayload) Outcome {
	fields := c.attemptFields(payload)
	region, err := c.regions.Resolve(payload.RegionName)
	if err != nil {
		c.metrics.IncFailure(enums.FailureUnknownRegion, payload.RegionName)
		return Outcome{Kind: KindUnexpected, Reason: enums.FailureUnknownRegion, Destination: payload.RegionName, Err: err}
	}
	fields["region"] = region.Name

	headers, err := decodeHeaders(payload.RequestHeaders)
	if err != nil {
		return Outcome{Kind: KindUnexpected, Reason: enums.FailureUnexpected, Destination: region.Name, Err: err}
	}

	start := time.Now()
	resp, err := c.regionClient.Request(ctx, region, silo.Request{
		Method:  payload.RequestMethod,
		Path:    payload.RequestPath,
		Headers: headers,
		Body:    []byte(payload.RequestBody),
	})
	c.metrics.ObserveSendRequest(region.Name, time.Since(start))

	outcome := Classify(err)
	outcome.Destination = region.Name
	if resp != nil {
		outcome.Status = resp.StatusCode
	}
	if outcome.Kind == KindDelivered {
		fields["status"] = outcome.Status
		c.logg.Debug(c.logg.WithFields(ctx, fields), "deliver_webhooks.success")
		return outcome
	}

	c.metrics.IncFailure(outcome.Reason, region.Name)
	fields["reason"] = outcome.Reason
	fields["error"] = err.Error()
	if outcome.Reason == enums.FailureAPIError {
		fields["response_code"] = outcome.Status
	}
	logCtx := c.logg.WithFields(ctx, fields)
	switch {
	case outcome.Alert:
		c.alerter.Alert(logCtx, payload, outcome)
	case outcome.Reason == enums.FailureHostError:
		c.logg.Warn(logCtx, "deliver_webhooks.host_error")
	case outcome.Reason == enums.FailureConflict:
		c.logg.Warn(logCtx, "deliver_webhooks.conflict_occurred")
	case outcome.Reason == enums.FailureTimeoutReset:
		c.logg.Warn(logCtx, "deliver_webhooks.timeout_error")
	case outcome.Reason.Is40x():
		c.logg.Info(logCtx, "deliver_webhooks.40x_error")
	case outcome.Kind == KindUnexpected:
		c.logg.Error(logCtx, "deliver_webhooks.unexpected_error", err)
	default:
		c.logg.Warn(logCtx, "deliver_webhooks.api_error")
	}
	return outcome
}

// deliverThirdParty is best effort: every failure is logged and counted and the
// payload is reported as handled so it leaves the mailbox.
func (c *Client) deliverThirdParty(ctx context.Context, payload *models.WebhookPayload) Outcome {
	destination := payload.ThirdPartyRef
	if destination == "" {
		destination = thirdPartyDestination
	}
	start := time.Now()
	defer func() { c.metrics.ObserveSendRequest(destination, time.Since(start)) }()

	fields := c.attemptFields(payload)
	handled := func(reason enums.FailureReason, err error, extra map[string]any) Outcome {
		c.metrics.IncFailure(reason, destination)
		for key, value := range extra {
			fields[key] = value
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.logg.Warn(c.logg.WithFields(ctx, fields), "deliver_webhooks.send_request_to_third_party."+string(reason))
		return Outcome{Kind: KindDelivered, Reason: reason, Destination: destination, Err: err}
	}

	if strings.Trim(payload.RequestPath, "/") != strings.Trim(c.thirdCfg.SourcePath, "/") {
		return handled(enums.FailureUnexpectedPath, errors.New("unexpected path"), nil)
	}
	if c.skipOwner(payload.RequestBody) {
		c.metrics.IncFailure(enums.FailureFiltered, destination)
		return Outcome{Kind: KindDelivered, Reason: enums.FailureFiltered, Destination: destination}
	}
	if c.thirdParty == nil {
		return handled(enums.FailureConfiguration, errors.New("third party destination is not configured"), nil)
	}
	headers, err := decodeHeaders(payload.RequestHeaders)
	if err != nil {
		return handled(enums.FailureJSONDecode, err, nil)
	}

	status, err := c.thirdParty.Post(ctx, c.thirdCfg.ForwardEndpoint, []byte(payload.RequestBody), silo.CleanProxyHeaders(headers))
	if err != nil {
		return handled(enums.FailureForward, err, nil)
	}
	if status != http.StatusOK {
		return handled(enums.FailureForward, errors.New("unexpected status code"), map[string]any{"status_code": status})
	}
	return Outcome{Kind: KindDelivered, Destination: destination, Status: status}
}

type ownerProbe struct {
	Repository *struct {
		Owner *struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

func (c *Client) skipOwner(body string) bool {
	if len(c.skipOwners) == 0 {
		return false
	}
	var probe ownerProbe
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return false
	}
	if probe.Repository == nil || probe.Repository.Owner == nil {
		return false
	}
	_, skip := c.skipOwners[probe.Repository.Owner.Login]
	return skip
}

func decodeHeaders(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil, fmt.Errorf("decode request headers: %w", err)
	}
	return headers, nil
}
