package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/internal/keys"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/store"
)

// Repository persists users and their emails through a storage engine.
// Every failure it returns is an *apperr.Error.
type Repository struct {
	engine store.Engine
	now    func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates a repository on engine.
func NewRepository(engine store.Engine, opts ...Option) *Repository {
	r := &Repository{
		engine: engine,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetUser returns the profile of userID, or nil when none exists.
func (r *Repository) GetUser(ctx context.Context, userID string) (*User, error) {
	item, err := r.engine.Get(ctx, keys.User(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("get user %s: %w", userID, err))
	}
	return decodeUser(item)
}

// GetUserOrFail is GetUser with absence reported as NotFound.
func (r *Repository) GetUserOrFail(ctx context.Context, userID string) (*User, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound(userID)
	}
	return user, nil
}

// EmailExists reports whether any user holds email, after normalization.
// The index is eventually consistent; CreateUser does not rely on it alone.
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	items, err := r.engine.QueryIndex(ctx, keys.EmailLookup(email), 1)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("query email index: %w", err))
	}
	return len(items) > 0, nil
}

// GetUserByEmail resolves the owner of email, or nil when none exists.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	items, err := r.engine.QueryIndex(ctx, keys.EmailLookup(email), 1)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("query email index: %w", err))
	}
	if len(items) == 0 {
		return nil, nil
	}
	var e emailItem
	if err := attributevalue.UnmarshalMap(items[0], &e); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decode email: %w", err))
	}
	return r.GetUser(ctx, e.UserID)
}

// ListEmails returns the emails owned by userID.
func (r *Repository) ListEmails(ctx context.Context, userID string) ([]Email, error) {
	items, err := r.engine.QueryPartition(ctx, keys.UserPK(userID), keys.EmailPrefix)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list emails of %s: %w", userID, err))
	}
	emails := make([]Email, 0, len(items))
	for _, item := range items {
		var e emailItem
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return nil, apperr.Internal(fmt.Errorf("decode email: %w", err))
		}
		emails = append(emails, e.Email)
	}
	return emails, nil
}

// CreateUser writes a new active user with one verified primary email.
//
// The profile, the email and the email guard are written in one transaction,
// each only if absent, so at most one of any number of concurrent creates for
// the same normalized email succeeds. Every failed absence check, and a
// transaction cancelled by a concurrent create that took the email, is
// reported as EmailAlreadyExists.
func (r *Repository) CreateUser(ctx context.Context, userID, email, emailID string) (*User, error) {
	normalized := keys.Normalize(email)
	if userID == "" || emailID == "" || normalized == "" {
		return nil, apperr.BadRequest("userId, email and emailId are required", nil)
	}

	exists, err := r.EmailExists(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.EmailAlreadyExists(nil)
	}

	now := r.now().UTC()
	user := User{
		UserID:    userID,
		Email:     normalized,
		Status:    StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index := keys.EmailIndex(normalized, userID)
	record := emailItem{
		EntityType: entityEmail,
		GSI1PK:     index.PK,
		GSI1SK:     index.SK,
		Email: Email{
			EmailID:    emailID,
			UserID:     userID,
			Email:      normalized,
			IsPrimary:  true,
			IsVerified: true,
			VerifiedAt: &now,
			CreatedAt:  now,
		},
	}
	guard := guardItem{
		EntityType: entityEmailGuard,
		UserID:     userID,
		EmailID:    emailID,
		Email:      normalized,
		CreatedAt:  now,
	}

	userAV, err := attributevalue.MarshalMap(userItem{EntityType: entityUser, User: user})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("encode user: %w", err))
	}
	emailAV, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("encode email: %w", err))
	}
	guardAV, err := attributevalue.MarshalMap(guard)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("encode email guard: %w", err))
	}

	err = r.engine.TransactPut(ctx,
		store.Put{Key: keys.User(userID), Item: userAV, Condition: store.ConditionNotExists},
		store.Put{Key: keys.Email(userID, emailID), Item: emailAV, Condition: store.ConditionNotExists},
		store.Put{Key: keys.EmailGuard(normalized), Item: guardAV, Condition: store.ConditionNotExists},
	)
	if errors.Is(err, store.ErrConditionFailed) {
		logging.FromContext(ctx).WarnContext(ctx, "email reservation rejected",
			"userId", userID, "error", err)
		return nil, apperr.EmailAlreadyExists(err)
	}
	if errors.Is(err, store.ErrTransactionConflict) {
		return nil, r.resolveConflict(ctx, userID, normalized, err)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("create user %s: %w", userID, err))
	}

	logging.FromContext(ctx).InfoContext(ctx, "user created", "userId", userID)
	return &user, nil
}

// resolveConflict classifies a create transaction cancelled by a concurrent
// transaction. Both sides of a race can be cancelled, so the guard is read
// back: when someone holds it the email is taken, otherwise the create is
// reported as Internal and may be retried.
func (r *Repository) resolveConflict(ctx context.Context, userID, normalized string, cause error) error {
	_, err := r.engine.Get(ctx, keys.EmailGuard(normalized))
	switch {
	case err == nil:
		logging.FromContext(ctx).WarnContext(ctx, "email reserved by concurrent create",
			"userId", userID, "error", cause)
		return apperr.EmailAlreadyExists(cause)
	case errors.Is(err, store.ErrNotFound):
		return apperr.Internal(fmt.Errorf("create user %s: %w", userID, cause))
	default:
		return apperr.Internal(fmt.Errorf("create user %s: read email guard: %w", userID, errors.Join(cause, err)))
	}
}

// UpdateUser applies patch when the stored version equals expectedVersion.
func (r *Repository) UpdateUser(ctx context.Context, userID string, patch Patch, expectedVersion int64) (*User, error) {
	if patch.Empty() {
		return nil, apperr.BadRequest("No fields to update", nil)
	}
	return r.apply(ctx, PatchToUpdate(userID, patch, expectedVersion, r.now().UTC()))
}

// SoftDeleteUser marks userID deleted. The record is kept. Deleting an
// already deleted user, or using a stale version, is a VersionConflict.
func (r *Repository) SoftDeleteUser(ctx context.Context, userID string, expectedVersion int64) (*User, error) {
	return r.apply(ctx, store.Update{
		Key: keys.User(userID),
		Set: map[string]any{
			attrStatus:    StatusDeleted,
			attrUpdatedAt: r.now().UTC(),
		},
		ExpectedVersion: expectedVersion,
		Unless:          map[string]any{attrStatus: StatusDeleted},
	})
}

// SetStatus moves userID between active and suspended. Deleted users cannot
// change status.
func (r *Repository) SetStatus(ctx context.Context, userID string, status Status, expectedVersion int64) (*User, error) {
	if status != StatusActive && status != StatusSuspended {
		return nil, apperr.BadRequest("status must be active or suspended", map[string]string{"status": string(status)})
	}
	return r.apply(ctx, store.Update{
		Key: keys.User(userID),
		Set: map[string]any{
			attrStatus:    status,
			attrUpdatedAt: r.now().UTC(),
		},
		ExpectedVersion: expectedVersion,
		Unless:          map[string]any{attrStatus: StatusDeleted},
	})
}

func (r *Repository) apply(ctx context.Context, u store.Update) (*User, error) {
	item, err := r.engine.Update(ctx, u)
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, apperr.VersionConflict(err)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("update %s: %w", u.Key.PK, err))
	}
	return decodeUser(item)
}

func decodeUser(item store.Item) (*User, error) {
	var u userItem
	if err := attributevalue.UnmarshalMap(item, &u); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decode user: %w", err))
	}
	return &u.User, nil
}
