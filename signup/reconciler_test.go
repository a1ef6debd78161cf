package signup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/store"
	"github.com/jacentio/accounts/users"
)

// scriptedCreator fails with the queued errors before delegating.
type scriptedCreator struct {
	mu       sync.Mutex
	failures []error
	emailIDs []string
	next     Creator
}

func (c *scriptedCreator) CreateUser(ctx context.Context, userID, email, emailID string) (*users.User, error) {
	c.mu.Lock()
	c.emailIDs = append(c.emailIDs, emailID)
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()
	return c.next.CreateUser(ctx, userID, email, emailID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishUserCreated(_ context.Context, userID, email, correlationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf("%s|%s|%s", userID, email, correlationID))
}

// recordingBackoff keeps the default policy's delays but does not sleep.
type recordingBackoff struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingBackoff) factory(cfg Config) func() retry.Backoff {
	return func() retry.Backoff {
		inner := newBackoff(cfg)
		return retry.BackoffFunc(func() (time.Duration, bool) {
			d, stop := inner.Next()
			if !stop {
				r.mu.Lock()
				r.delays = append(r.delays, d)
				r.mu.Unlock()
			}
			return 0, stop
		})
	}
}

var clock = time.UnixMilli(1700000000000)

type fixture struct {
	rec     *Reconciler
	creator *scriptedCreator
	pub     *recordingPublisher
	backoff *recordingBackoff
	repo    *users.Repository
	logs    *bytes.Buffer
}

func newFixture(failures ...error) *fixture {
	repo := users.NewRepository(store.NewMemory())
	f := &fixture{
		creator: &scriptedCreator{failures: failures, next: repo},
		pub:     &recordingPublisher{},
		backoff: &recordingBackoff{},
		repo:    repo,
		logs:    &bytes.Buffer{},
	}
	ids := 0
	f.rec = New(f.creator, f.pub, DefaultConfig(),
		WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))),
		WithBackoff(f.backoff.factory(DefaultConfig())),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("email-%d", ids) }),
		WithClock(func() time.Time { return clock }),
	)
	return f
}

func confirmTrigger() Trigger {
	return Trigger{TriggerSource: TriggerConfirmSignUp, UserID: "u1", Email: "Ada@Example.com"}
}

func TestNewBackoff_Schedule(t *testing.T) {
	b := newBackoff(DefaultConfig())

	d, stop := b.Next()
	assert.False(t, stop)
	assert.Equal(t, 100*time.Millisecond, d)

	d, stop = b.Next()
	assert.False(t, stop)
	assert.Equal(t, 200*time.Millisecond, d)

	_, stop = b.Next()
	assert.True(t, stop)
}

func TestNew_DefaultsConfig(t *testing.T) {
	r := New(nil, nil, Config{})
	b := r.backoff()

	d, _ := b.Next()
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestReconcile_Success(t *testing.T) {
	f := newFixture()

	out := f.rec.Reconcile(context.Background(), confirmTrigger())

	require.NoError(t, out.Err)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 1, out.Attempts)
	require.NotNil(t, out.User)
	assert.Equal(t, "ada@example.com", out.User.Email)
	assert.Equal(t, "cognito-PostConfirmation_ConfirmSignUp-u1-1700000000000", out.CorrelationID)
	assert.Equal(t, []string{"u1|ada@example.com|" + out.CorrelationID}, f.pub.events)
	assert.Empty(t, f.backoff.delays)
	assert.Contains(t, f.logs.String(), out.CorrelationID)
}

func TestReconcile_TransientFailuresThenSuccess(t *testing.T) {
	transient := apperr.Internal(store.ErrTransactionConflict)
	f := newFixture(transient, transient)

	out := f.rec.Reconcile(context.Background(), confirmTrigger())

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.backoff.delays)
	assert.Len(t, f.pub.events, 1)

	// fresh email id per attempt
	assert.Equal(t, []string{"email-1", "email-2", "email-3"}, f.creator.emailIDs)

	u, err := f.repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestReconcile_Exhausted(t *testing.T) {
	boom := apperr.Internal(errors.New("dynamodb unavailable"))
	f := newFixture(boom, boom, boom)

	out := f.rec.Reconcile(context.Background(), confirmTrigger())

	assert.Equal(t, StateFailedExhausted, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Error(t, out.Err)
	assert.Empty(t, f.pub.events)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.backoff.delays)
	assert.Contains(t, f.logs.String(), "user creation failed after all retries")
}

func TestReconcile_EmailAlreadyExistsNotRetried(t *testing.T) {
	f := newFixture(apperr.EmailAlreadyExists(nil))

	out := f.rec.Reconcile(context.Background(), confirmTrigger())

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.NoError(t, out.Err)
	assert.Empty(t, f.pub.events)
	assert.Empty(t, f.backoff.delays)
}

func TestReconcile_SecondConfirmationIsIdempotent(t *testing.T) {
	f := newFixture()

	first := f.rec.Reconcile(context.Background(), confirmTrigger())
	second := f.rec.Reconcile(context.Background(), confirmTrigger())

	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, StateDone, second.State)
	assert.Nil(t, second.User)
	assert.Len(t, f.pub.events, 1)
}

func TestReconcile_SkipsWithoutPersisting(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
	}{
		{"forgot password", Trigger{TriggerSource: "PostConfirmation_ConfirmForgotPassword", UserID: "u1", Email: "a@b.c"}},
		{"missing sub", Trigger{TriggerSource: TriggerConfirmSignUp, Email: "a@b.c"}},
		{"missing email", Trigger{TriggerSource: TriggerConfirmSignUp, UserID: "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			out := f.rec.Reconcile(context.Background(), tt.trigger)

			assert.Equal(t, StateDone, out.State)
			assert.Zero(t, out.Attempts)
			assert.Empty(t, f.creator.emailIDs)
			assert.Empty(t, f.pub.events)
		})
	}
}

func TestHandle_ReturnsEventUnchanged(t *testing.T) {
	boom := apperr.Internal(errors.New("down"))
	f := newFixture(boom, boom, boom)

	event := events.CognitoEventUserPoolsPostConfirmation{
		CognitoEventUserPoolsHeader: events.CognitoEventUserPoolsHeader{
			TriggerSource: TriggerConfirmSignUp,
			UserPoolID:    "pool-1",
		},
		Request: events.CognitoEventUserPoolsPostConfirmationRequest{
			UserAttributes: map[string]string{"sub": "u1", "email": "ada@example.com"},
		},
	}

	got, err := f.rec.Handle(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, event, got)
	assert.Len(t, f.creator.emailIDs, 3)
}
