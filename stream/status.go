// Package stream turns profile changes on the table's stream into domain events.
package stream

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/accounts/internal/keys"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/users"
)

// Publisher announces status transitions.
type Publisher interface {
	PublishUserSuspended(ctx context.Context, userID, reason, correlationID string)
	PublishUserReactivated(ctx context.Context, userID, correlationID string)
}

// Handler processes DynamoDB stream events for account status changes.
type Handler struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(p Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		publisher: p,
		logger:    logger,
	}
}

// HandleStatusChanges publishes user.suspended and user.reactivated for
// profile records whose status moved between active and suspended.
// All other records are ignored.
func (h *Handler) HandleStatusChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		h.processRecord(ctx, record)
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) {
	if record.EventName != string(events.DynamoDBOperationTypeModify) {
		return
	}

	key, ok := streamKey(record.Change.Keys)
	if !ok || key.SK != keys.ProfileSK {
		return
	}

	oldStatus := users.Status(getStringAttr(record.Change.OldImage, "status"))
	newStatus := users.Status(getStringAttr(record.Change.NewImage, "status"))
	if oldStatus == newStatus {
		return
	}

	userID, ok := keys.UserIDFromPK(key.PK)
	if !ok {
		h.logger.WarnContext(ctx, "profile record without user key", "eventID", record.EventID, "pk", key.PK)
		return
	}

	correlationID := "stream-" + record.EventID
	attrs := []any{
		"correlationId", correlationID,
		"userId", userID,
		"from", string(oldStatus),
		"to", string(newStatus),
		"version", getNumberAttr(record.Change.NewImage, "version"),
	}

	_, _ = logging.Scoped(ctx, h.logger, attrs, func(ctx context.Context) (struct{}, error) {
		switch {
		case oldStatus == users.StatusActive && newStatus == users.StatusSuspended:
			h.publisher.PublishUserSuspended(ctx, userID, "", correlationID)
		case oldStatus == users.StatusSuspended && newStatus == users.StatusActive:
			h.publisher.PublishUserReactivated(ctx, userID, correlationID)
		default:
			logging.FromContext(ctx).DebugContext(ctx, "status change not published")
		}
		return struct{}{}, nil
	})
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// streamKey converts the key of a stream record to a table key.
func streamKey(raw map[string]events.DynamoDBAttributeValue) (keys.Key, bool) {
	pk := getStringAttr(raw, keys.AttrPK)
	sk := getStringAttr(raw, keys.AttrSK)
	if pk == "" || sk == "" {
		return keys.Key{}, false
	}
	return keys.Key{PK: pk, SK: sk}, true
}
