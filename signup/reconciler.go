// Package signup creates the account record once a sign-up is confirmed.
//
// The identity provider has already confirmed the user when the trigger
// fires, so the handler never fails the invocation: persistence errors are
// retried with bounded exponential backoff and then logged for manual repair.
package signup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/users"
)

// TriggerConfirmSignUp is the only trigger source that creates a user.
const TriggerConfirmSignUp = "PostConfirmation_ConfirmSignUp"

// State is a step of a reconciliation.
type State string

const (
	StateReceived        State = "received"
	StateValidating      State = "validating"
	StatePersisting      State = "persisting"
	StatePublishing      State = "publishing"
	StateDone            State = "done"
	StateFailedExhausted State = "failed_exhausted"
)

// Creator persists new users.
type Creator interface {
	CreateUser(ctx context.Context, userID, email, emailID string) (*users.User, error)
}

// Publisher announces created users.
type Publisher interface {
	PublishUserCreated(ctx context.Context, userID, email, correlationID string)
}

// Trigger is the part of a confirmation event the reconciler acts on.
type Trigger struct {
	TriggerSource string
	UserPoolID    string
	UserID        string
	Email         string
}

// Outcome reports how a reconciliation ended.
type Outcome struct {
	State         State
	Attempts      int
	User          *users.User
	CorrelationID string
	Err           error
}

// Config controls retries of the persist step.
type Config struct {
	// MaxAttempts is the total number of create attempts.
	MaxAttempts uint64

	// BackoffBase is the delay after the first failed attempt. It doubles
	// after each further failure.
	BackoffBase time.Duration
}

// DefaultConfig returns three attempts with 100ms then 200ms between them.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithBackoff overrides the backoff policy. The factory is called once per
// reconciliation.
func WithBackoff(f func() retry.Backoff) Option {
	return func(r *Reconciler) { r.backoff = f }
}

// WithIDGenerator overrides email id generation.
func WithIDGenerator(f func() string) Option {
	return func(r *Reconciler) { r.newID = f }
}

// WithClock overrides the time source used for correlation ids.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler drives a confirmed sign-up to a persisted user.
type Reconciler struct {
	creator   Creator
	publisher Publisher
	logger    *slog.Logger
	backoff   func() retry.Backoff
	newID     func() string
	now       func() time.Time
}

// New creates a reconciler.
func New(creator Creator, publisher Publisher, cfg Config, opts ...Option) *Reconciler {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}

	r := &Reconciler{
		creator:   creator,
		publisher: publisher,
		logger:    slog.Default(),
		backoff:   func() retry.Backoff { return newBackoff(cfg) },
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newBackoff(cfg Config) retry.Backoff {
	return retry.WithMaxRetries(cfg.MaxAttempts-1, retry.NewExponential(cfg.BackoffBase))
}

// Handle is the post-confirmation Lambda entry. It always returns the event
// unchanged with a nil error.
func (r *Reconciler) Handle(ctx context.Context, event events.CognitoEventUserPoolsPostConfirmation) (events.CognitoEventUserPoolsPostConfirmation, error) {
	r.Reconcile(ctx, Trigger{
		TriggerSource: event.TriggerSource,
		UserPoolID:    event.UserPoolID,
		UserID:        event.Request.UserAttributes["sub"],
		Email:         event.Request.UserAttributes["email"],
	})
	return event, nil
}

// Reconcile runs one confirmation through validation, persistence and
// publication inside its own logging scope.
func (r *Reconciler) Reconcile(ctx context.Context, t Trigger) Outcome {
	correlationID := fmt.Sprintf("cognito-%s-%s-%d", t.TriggerSource, t.UserID, r.now().UnixMilli())
	attrs := []any{"correlationId", correlationID, "userId", t.UserID, "triggerSource", t.TriggerSource}

	out, err := logging.Scoped(ctx, r.logger, attrs, func(ctx context.Context) (Outcome, error) {
		o := r.run(ctx, t, correlationID)
		return o, o.Err
	})
	if err != nil && out.State == "" {
		out = Outcome{State: StateFailedExhausted, Err: err}
	}
	out.CorrelationID = correlationID
	return out
}

func (r *Reconciler) run(ctx context.Context, t Trigger, correlationID string) Outcome {
	logger := logging.FromContext(ctx)
	o := Outcome{State: StateValidating}
	if t.UserID == "" || t.Email == "" {
		logger.ErrorContext(ctx, "missing required user attributes",
			"hasUserId", t.UserID != "",
			"hasEmail", t.Email != "",
		)
		o.State = StateDone
		return o
	}

	logger.InfoContext(ctx, "post-confirmation trigger invoked", "userPoolId", t.UserPoolID)

	if t.TriggerSource != TriggerConfirmSignUp {
		logger.InfoContext(ctx, "skipping non-signup confirmation")
		o.State = StateDone
		return o
	}

	o.State = StatePersisting
	var user *users.User
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		o.Attempts++
		u, err := r.creator.CreateUser(ctx, t.UserID, t.Email, r.newID())
		if err == nil {
			user = u
			return nil
		}
		if apperr.Is(err, apperr.KindEmailAlreadyExists) || apperr.Is(err, apperr.KindBadRequest) {
			return err
		}
		logger.WarnContext(ctx, "user creation failed", "attempt", o.Attempts, "error", err)
		return retry.RetryableError(err)
	})

	switch {
	case apperr.Is(err, apperr.KindEmailAlreadyExists):
		logger.WarnContext(ctx, "email already exists, user may already be created")
		o.State = StateDone
		return o
	case err != nil:
		logger.ErrorContext(ctx, "user creation failed after all retries",
			"attempts", o.Attempts,
			"error", err,
		)
		o.State = StateFailedExhausted
		o.Err = err
		return o
	}

	logger.InfoContext(ctx, "user record created", "attempt", o.Attempts)
	o.User = user

	o.State = StatePublishing
	r.publisher.PublishUserCreated(ctx, user.UserID, user.Email, correlationID)

	o.State = StateDone
	return o
}
