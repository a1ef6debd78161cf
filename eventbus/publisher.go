package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/jacentio/accounts/logging"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrUnknownKind is returned for a detail type outside the event catalogue.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrEntryRejected is returned when EventBridge accepts the call but fails the entry.
	ErrEntryRejected = errors.New("event entry rejected")
)

// PutEventsAPI is the subset of the EventBridge client used by Publisher.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Config holds publisher settings.
type Config struct {
	// BusName is the target event bus.
	BusName string

	// Environment is reported in every event's metadata.
	Environment string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClock overrides the time source for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// Publisher sends events to EventBridge. Publishing is best-effort: a
// failure is logged and never reaches the caller.
type Publisher struct {
	client      PutEventsAPI
	busName     string
	environment string
	now         func() time.Time
}

// New creates a publisher for the configured bus.
func New(client PutEventsAPI, cfg Config, opts ...Option) *Publisher {
	if cfg.BusName == "" {
		cfg.BusName = "dev-user-service"
	}
	if cfg.Environment == "" {
		cfg.Environment = "unknown"
	}
	p := &Publisher{
		client:      client,
		busName:     cfg.BusName,
		environment: cfg.Environment,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends one event and logs the outcome.
func (p *Publisher) Publish(ctx context.Context, kind Kind, detail any, correlationID string) {
	logger := logging.FromContext(ctx)

	eventID, err := p.send(ctx, kind, detail, correlationID)
	if err != nil {
		logger.ErrorContext(ctx, "error publishing event",
			"detailType", string(kind),
			"correlationId", correlationID,
			"error", err,
		)
		return
	}

	logger.InfoContext(ctx, "event published",
		"detailType", string(kind),
		"eventId", eventID,
		"correlationId", correlationID,
	)
}

// PublishUserCreated announces a persisted sign-up.
func (p *Publisher) PublishUserCreated(ctx context.Context, userID, email, correlationID string) {
	p.Publish(ctx, UserCreated, UserCreatedDetail{UserID: userID, Email: email}, correlationID)
}

// PublishUserUpdated announces a profile update.
func (p *Publisher) PublishUserUpdated(ctx context.Context, userID string, changedFields []string, correlationID string) {
	p.Publish(ctx, UserUpdated, UserUpdatedDetail{UserID: userID, ChangedFields: changedFields}, correlationID)
}

// PublishUserDeleted announces a soft delete.
func (p *Publisher) PublishUserDeleted(ctx context.Context, userID, correlationID string) {
	p.Publish(ctx, UserDeleted, UserDeletedDetail{UserID: userID}, correlationID)
}

// PublishUserSuspended announces a suspension. An empty reason is omitted.
func (p *Publisher) PublishUserSuspended(ctx context.Context, userID, reason, correlationID string) {
	p.Publish(ctx, UserSuspended, UserSuspendedDetail{UserID: userID, Reason: reason}, correlationID)
}

// PublishUserReactivated announces a suspended user becoming active again.
func (p *Publisher) PublishUserReactivated(ctx context.Context, userID, correlationID string) {
	p.Publish(ctx, UserReactivated, UserReactivatedDetail{UserID: userID}, correlationID)
}

// send puts a single entry and returns its event id.
func (p *Publisher) send(ctx context.Context, kind Kind, detail any, correlationID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	body, err := p.buildDetail(detail, correlationID)
	if err != nil {
		return "", fmt.Errorf("build detail: %w", err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Source:       aws.String(Source),
			DetailType:   aws.String(string(kind)),
			Detail:       aws.String(body),
			EventBusName: aws.String(p.busName),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("put events: %w", err)
	}

	if out.FailedEntryCount > 0 {
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				return "", fmt.Errorf("%w: %s: %s", ErrEntryRejected,
					aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return "", ErrEntryRejected
	}

	if len(out.Entries) > 0 {
		return aws.ToString(out.Entries[0].EventId), nil
	}
	return "", nil
}

// buildDetail merges the detail's fields with the schema version and metadata.
func (p *Publisher) buildDetail(detail any, correlationID string) (string, error) {
	fields := map[string]json.RawMessage{}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", fmt.Errorf("detail is not an object: %w", err)
		}
	}

	version, err := json.Marshal(Version)
	if err != nil {
		return "", err
	}
	metadata, err := json.Marshal(Metadata{
		CorrelationID: correlationID,
		Environment:   p.environment,
		Timestamp:     p.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return "", err
	}
	fields["version"] = version
	fields["metadata"] = metadata

	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
