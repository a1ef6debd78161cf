package users_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/internal/keys"
	"github.com/jacentio/accounts/store"
	"github.com/jacentio/accounts/users"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*users.Repository, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return users.NewRepository(mem, users.WithClock(func() time.Time { return fixedNow })), mem
}

func mustCreate(t *testing.T, repo *users.Repository, userID, email string) *users.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), userID, email, "e-"+userID)
	require.NoError(t, err)
	return u
}

// --- CreateUser ---

func TestCreateUser(t *testing.T) {
	repo, mem := newRepo(t)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "u1", "  Ada@Example.COM ", "e1")
	require.NoError(t, err)

	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, users.StatusActive, u.Status)
	assert.Equal(t, int64(1), u.Version)
	assert.Equal(t, fixedNow, u.CreatedAt)
	assert.Equal(t, fixedNow, u.UpdatedAt)

	// profile, email and guard
	assert.Equal(t, 3, mem.Len())

	got, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	emails, err := repo.ListEmails(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "e1", emails[0].EmailID)
	assert.Equal(t, "ada@example.com", emails[0].Email)
	assert.True(t, emails[0].IsPrimary)
	assert.True(t, emails[0].IsVerified)
	require.NotNil(t, emails[0].VerifiedAt)
	assert.True(t, fixedNow.Equal(*emails[0].VerifiedAt))
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo, mem := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.CreateUser(context.Background(), "u2", "ADA@example.com", "e2")
	assert.True(t, apperr.Is(err, apperr.KindEmailAlreadyExists))
	assert.Equal(t, 3, mem.Len())
}

func TestCreateUser_GuardCatchesStaleIndex(t *testing.T) {
	repo, mem := newRepo(t)

	// A guard without an indexed email item simulates a lagging index.
	require.NoError(t, mem.TransactPut(context.Background(), store.Put{
		Key:       keys.EmailGuard("ada@example.com"),
		Item:      store.Item{},
		Condition: store.ConditionNotExists,
	}))

	_, err := repo.CreateUser(context.Background(), "u2", "ada@example.com", "e2")
	assert.True(t, apperr.Is(err, apperr.KindEmailAlreadyExists))
	assert.True(t, errors.Is(err, store.ErrConditionFailed))

	u, err := repo.GetUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestCreateUser_ExistingUserID(t *testing.T) {
	repo, _ := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.CreateUser(context.Background(), "u1", "other@example.com", "e9")
	assert.True(t, apperr.Is(err, apperr.KindEmailAlreadyExists))
}

func TestCreateUser_MissingFields(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.CreateUser(context.Background(), "u1", "   ", "e1")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestCreateUser_ConcurrentSameEmail(t *testing.T) {
	repo, mem := newRepo(t)
	const n = 20

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreateUser(context.Background(),
				fmt.Sprintf("u%d", i), "Race@Example.com", fmt.Sprintf("e%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindEmailAlreadyExists), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, mem.Len())
}

// --- Lookups ---

func TestGetUser_Missing(t *testing.T) {
	repo, _ := newRepo(t)

	u, err := repo.GetUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = repo.GetUserOrFail(context.Background(), "nobody")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEmailExists_Normalizes(t *testing.T) {
	repo, _ := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")

	for _, email := range []string{"ada@example.com", " ADA@EXAMPLE.COM", "Ada@Example.com  "} {
		ok, err := repo.EmailExists(context.Background(), email)
		require.NoError(t, err)
		assert.True(t, ok, email)
	}

	ok, err := repo.EmailExists(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserByEmail(t *testing.T) {
	repo, _ := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")

	u, err := repo.GetUserByEmail(context.Background(), "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.UserID)

	same, err := repo.GetUserByEmail(context.Background(), "ada@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u, same)

	u, err = repo.GetUserByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

// --- UpdateUser ---

func TestUpdateUser(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	u, err := repo.UpdateUser(ctx, "u1", users.Patch{
		FirstName: users.Set("Ada"),
		Phone:     users.Set("+15551234567"),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Version)
	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, "+15551234567", u.Phone)

	u, err = repo.UpdateUser(ctx, "u1", users.Patch{Phone: users.Null[string]()}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.Version)
	assert.Empty(t, u.Phone)
	assert.Equal(t, "Ada", u.FirstName)

	got, err := repo.GetUserOrFail(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.Phone)
	assert.Equal(t, "Ada", got.FirstName)
}

func TestUpdateUser_OmittedFieldsUnchanged(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	created := users.NewRepository(mem, users.WithClock(func() time.Time { return fixedNow }))
	_, err := created.CreateUser(ctx, "u1", "ada@example.com", "e1")
	require.NoError(t, err)
	_, err = created.UpdateUser(ctx, "u1", users.Patch{LastName: users.Set("Lovelace"), Phone: users.Set("+15551234567")}, 1)
	require.NoError(t, err)

	before, err := mem.Get(ctx, keys.User("u1"))
	require.NoError(t, err)

	later := users.NewRepository(mem, users.WithClock(func() time.Time { return fixedNow.Add(time.Hour) }))
	u, err := later.UpdateUser(ctx, "u1", users.Patch{FirstName: users.Set("Jane")}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Jane", u.FirstName)
	assert.Equal(t, int64(3), u.Version)

	after, err := mem.Get(ctx, keys.User("u1"))
	require.NoError(t, err)
	for _, name := range []string{"lastName", "phone", "email", "status", "createdAt", "userId", "entityType"} {
		assert.Equal(t, before[name], after[name], name)
	}
	assert.NotEqual(t, before["updatedAt"], after["updatedAt"])
}

func TestUpdateUser_StaleVersion(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.UpdateUser(ctx, "u1", users.Patch{FirstName: users.Set("Ada")}, 1)
	require.NoError(t, err)

	_, err = repo.UpdateUser(ctx, "u1", users.Patch{FirstName: users.Set("Grace")}, 1)
	assert.True(t, apperr.Is(err, apperr.KindVersionConflict))

	got, err := repo.GetUserOrFail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateUser_ConcurrentSameVersion(t *testing.T) {
	repo, _ := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")
	const n = 10

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.UpdateUser(context.Background(), "u1",
				users.Patch{FirstName: users.Set(fmt.Sprintf("N%d", i))}, 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindVersionConflict))
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateUser_EmptyPatch(t *testing.T) {
	repo, _ := newRepo(t)
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.UpdateUser(context.Background(), "u1", users.Patch{}, 1)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestUpdateUser_MissingUser(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.UpdateUser(context.Background(), "ghost", users.Patch{FirstName: users.Set("A")}, 1)
	assert.True(t, apperr.Is(err, apperr.KindVersionConflict))
}

// --- SoftDeleteUser ---

func TestSoftDeleteUser(t *testing.T) {
	repo, mem := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	u, err := repo.SoftDeleteUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, users.StatusDeleted, u.Status)
	assert.Equal(t, int64(2), u.Version)

	// record retained
	assert.Equal(t, 3, mem.Len())
	got, err := repo.GetUserOrFail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, users.StatusDeleted, got.Status)
}

func TestSoftDeleteUser_Twice(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.SoftDeleteUser(ctx, "u1", 1)
	require.NoError(t, err)

	// stale pre-delete version
	_, err = repo.SoftDeleteUser(ctx, "u1", 1)
	assert.True(t, apperr.Is(err, apperr.KindVersionConflict))

	// current version, already deleted
	_, err = repo.SoftDeleteUser(ctx, "u1", 2)
	assert.True(t, apperr.Is(err, apperr.KindVersionConflict))

	got, err := repo.GetUserOrFail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

// --- SetStatus ---

func TestSetStatus(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	u, err := repo.SetStatus(ctx, "u1", users.StatusSuspended, 1)
	require.NoError(t, err)
	assert.Equal(t, users.StatusSuspended, u.Status)

	u, err = repo.SetStatus(ctx, "u1", users.StatusActive, 2)
	require.NoError(t, err)
	assert.Equal(t, users.StatusActive, u.Status)
	assert.Equal(t, int64(3), u.Version)
}

func TestSetStatus_Rejects(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, "u1", "ada@example.com")

	_, err := repo.SetStatus(ctx, "u1", users.StatusDeleted, 1)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = repo.SoftDeleteUser(ctx, "u1", 1)
	require.NoError(t, err)

	_, err = repo.SetStatus(ctx, "u1", users.StatusActive, 2)
	assert.True(t, apperr.Is(err, apperr.KindVersionConflict))
}

// --- Engine failures ---

type failingEngine struct {
	store.Engine
	err error
}

func (f failingEngine) Get(context.Context, keys.Key) (store.Item, error) { return nil, f.err }

func (f failingEngine) QueryIndex(context.Context, string, int32) ([]store.Item, error) {
	return nil, f.err
}

func (f failingEngine) TransactPut(context.Context, ...store.Put) error { return f.err }

func TestRepository_EngineFailureIsInternal(t *testing.T) {
	boom := errors.New("boom")
	repo := users.NewRepository(failingEngine{Engine: store.NewMemory(), err: boom})

	_, err := repo.GetUser(context.Background(), "u1")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.ErrorIs(t, err, boom)

	_, err = repo.CreateUser(context.Background(), "u1", "ada@example.com", "e1")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestCreateUser_TransactionConflictWithTakenEmail(t *testing.T) {
	engine := &racingEngine{Memory: store.NewMemory(), winner: "winner", email: "race@example.com"}
	repo := users.NewRepository(engine)

	_, err := repo.CreateUser(context.Background(), "loser", "race@example.com", "e-loser")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindEmailAlreadyExists), "got %v", err)
	assert.ErrorIs(t, err, store.ErrTransactionConflict)

	winner, err := repo.GetUserByEmail(context.Background(), "race@example.com")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, "winner", winner.UserID)

	loser, err := repo.GetUser(context.Background(), "loser")
	require.NoError(t, err)
	assert.Nil(t, loser)
}

func TestCreateUser_TransactionConflictWithFreeEmailIsInternal(t *testing.T) {
	engine := &racingEngine{Memory: store.NewMemory()}
	repo := users.NewRepository(engine)

	_, err := repo.CreateUser(context.Background(), "u1", "ada@example.com", "e1")
	assert.True(t, apperr.Is(err, apperr.KindInternal), "got %v", err)
	assert.ErrorIs(t, err, store.ErrTransactionConflict)

	exists, err := repo.EmailExists(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

// racingEngine cancels every transaction with a conflict. When winner is
// set, winner's create for email commits first.
type racingEngine struct {
	*store.Memory
	winner string
	email  string
}

func (e *racingEngine) TransactPut(ctx context.Context, _ ...store.Put) error {
	if e.winner != "" {
		if _, err := users.NewRepository(e.Memory).CreateUser(ctx, e.winner, e.email, "e-"+e.winner); err != nil {
			return err
		}
	}
	return store.ErrTransactionConflict
}
