// Package users owns account records and the email uniqueness protocol.
package users

import (
	"time"
)

// Status is the lifecycle state of an account.
type Status string

const (
	// StatusActive is the state of every newly created user.
	StatusActive Status = "active"

	// StatusSuspended blocks the account without deleting it.
	StatusSuspended Status = "suspended"

	// StatusDeleted marks a soft-deleted account. It is terminal.
	StatusDeleted Status = "deleted"
)

// Entity type tags stored on every item.
const (
	entityUser       = "USER"
	entityEmail      = "EMAIL"
	entityEmailGuard = "EMAIL_GUARD"
)

// Attribute names referenced by updates.
const (
	attrFirstName = "firstName"
	attrLastName  = "lastName"
	attrPhone     = "phone"
	attrStatus    = "status"
	attrUpdatedAt = "updatedAt"
)

// User is an account profile.
type User struct {
	UserID    string    `json:"userId" dynamodbav:"userId"`
	Email     string    `json:"email" dynamodbav:"email"`
	FirstName string    `json:"firstName,omitempty" dynamodbav:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty" dynamodbav:"lastName,omitempty"`
	Phone     string    `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Status    Status    `json:"status" dynamodbav:"status"`
	Version   int64     `json:"version" dynamodbav:"version"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Email is an address owned by a user.
type Email struct {
	EmailID    string     `json:"emailId" dynamodbav:"emailId"`
	UserID     string     `json:"userId" dynamodbav:"userId"`
	Email      string     `json:"email" dynamodbav:"email"`
	IsPrimary  bool       `json:"isPrimary" dynamodbav:"isPrimary"`
	IsVerified bool       `json:"isVerified" dynamodbav:"isVerified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty" dynamodbav:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" dynamodbav:"createdAt"`
}

// userItem is the stored form of a profile.
type userItem struct {
	EntityType string `dynamodbav:"entityType"`
	User
}

// emailItem is the stored form of an email, projected into GSI1.
type emailItem struct {
	EntityType string `dynamodbav:"entityType"`
	GSI1PK     string `dynamodbav:"GSI1PK"`
	GSI1SK     string `dynamodbav:"GSI1SK"`
	Email
}

// guardItem reserves a normalized email for one user.
type guardItem struct {
	EntityType string    `dynamodbav:"entityType"`
	UserID     string    `dynamodbav:"userId"`
	EmailID    string    `dynamodbav:"emailId"`
	Email      string    `dynamodbav:"email"`
	CreatedAt  time.Time `dynamodbav:"createdAt"`
}
