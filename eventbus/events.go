// Package eventbus publishes account domain events to EventBridge.
package eventbus

// Kind is an event detail type.
type Kind string

// Event kinds published by the service.
const (
	UserCreated         Kind = "user.created"
	UserUpdated         Kind = "user.updated"
	UserDeleted         Kind = "user.deleted"
	UserSuspended       Kind = "user.suspended"
	UserReactivated     Kind = "user.reactivated"
	EmailAdded          Kind = "email.added"
	EmailVerified       Kind = "email.verified"
	EmailRemoved        Kind = "email.removed"
	EmailPrimaryChanged Kind = "email.primary.changed"
)

var kinds = map[Kind]struct{}{
	UserCreated:         {},
	UserUpdated:         {},
	UserDeleted:         {},
	UserSuspended:       {},
	UserReactivated:     {},
	EmailAdded:          {},
	EmailVerified:       {},
	EmailRemoved:        {},
	EmailPrimaryChanged: {},
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Source is the fixed EventBridge source of every event.
const Source = "user-service"

// Version is the detail schema version.
const Version = "1.0"

// Metadata is attached to every event detail.
type Metadata struct {
	CorrelationID string `json:"correlationId"`
	Environment   string `json:"environment"`
	Timestamp     string `json:"timestamp"`
}

// UserCreatedDetail is the detail of user.created.
type UserCreatedDetail struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// UserUpdatedDetail is the detail of user.updated. ChangedFields lists the
// profile attributes the update touched.
type UserUpdatedDetail struct {
	UserID        string   `json:"userId"`
	ChangedFields []string `json:"changedFields"`
}

// UserDeletedDetail is the detail of user.deleted.
type UserDeletedDetail struct {
	UserID string `json:"userId"`
}

// UserSuspendedDetail is the detail of user.suspended.
type UserSuspendedDetail struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

// UserReactivatedDetail is the detail of user.reactivated.
type UserReactivatedDetail struct {
	UserID string `json:"userId"`
}

// EmailDetail is the detail of email.added, email.verified and email.removed.
type EmailDetail struct {
	UserID  string `json:"userId"`
	EmailID string `json:"emailId"`
	Email   string `json:"email"`
}

// EmailPrimaryChangedDetail is the detail of email.primary.changed.
type EmailPrimaryChangedDetail struct {
	UserID   string `json:"userId"`
	OldEmail string `json:"oldEmail"`
	NewEmail string `json:"newEmail"`
}
