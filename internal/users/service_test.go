package users

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/rbac/rbactest"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

type memoryUserRepo struct {
	users  map[int64]User
	hashes map[int64]string
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[int64]User{}, hashes: map[int64]string{}}
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	for id, u := range r.users {
		if u.Email == email {
			return u.credentials(r.hashes[id]), nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, shared.ErrNotFound)
}

func (r *memoryUserRepo) GetByID(_ context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryUserRepo) ListUsers(context.Context) ([]User, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryUserRepo) Create(_ context.Context, in NewUser) (User, error) {
	r.nextID++
	now := time.Now().UTC()
	u := User{ID: r.nextID, Email: in.Email, FirstName: in.FirstName, LastName: in.LastName, UpstreamID: in.UpstreamID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	r.users[u.ID] = u
	r.hashes[u.ID] = in.PasswordHash
	return u, nil
}

type fakeAccounts struct {
	created []upstream.NewEPerson
	err     error
}

func (f *fakeAccounts) CreateEPerson(_ context.Context, in upstream.NewEPerson) (upstream.EPerson, error) {
	if f.err != nil {
		return upstream.EPerson{}, f.err
	}
	f.created = append(f.created, in)
	return upstream.EPerson{ID: fmt.Sprintf("ep-%d", len(f.created)), Email: in.Email}, nil
}

type fakeAssigner struct {
	granted map[int64]string
	err     error
}

func (f *fakeAssigner) Assign(_ context.Context, userID int64, role string) error {
	if f.err != nil {
		return f.err
	}
	f.granted[userID] = role
	return nil
}

func newTestService() (*Service, *memoryUserRepo, *fakeAccounts, *fakeAssigner) {
	repo := newMemoryUserRepo()
	accounts := &fakeAccounts{}
	assigner := &fakeAssigner{granted: map[int64]string{}}
	return NewService(repo, accounts, assigner, nil, nil), repo, accounts, assigner
}

func TestRegisterCreatesUpstreamThenLocalUser(t *testing.T) {
	svc, repo, accounts, assigner := newTestService()

	user, err := svc.Register(context.Background(), Registration{
		Email:     "  Ada@Example.org ",
		Password:  "correct horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	require.Equal(t, "ada@example.org", user.Email)
	require.Equal(t, "ep-1", user.UpstreamID)
	require.Equal(t, []upstream.NewEPerson{{Email: "ada@example.org", FirstName: "Ada", LastName: "Lovelace", CanLogIn: true}}, accounts.created)
	require.Equal(t, DefaultRole, assigner.granted[user.ID])

	creds, err := repo.FindByEmail(context.Background(), "ada@example.org")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", creds.PasswordHash)
	require.True(t, auth.CheckPassword(creds.PasswordHash, "correct horse"))
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _, accounts, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{Email: "ada@example.org", Password: "correct horse"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, Registration{Email: "ADA@example.org", Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = svc.Register(ctx, Registration{Email: "not-an-email", Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrBadRequest)

	_, err = svc.Register(ctx, Registration{Email: "bob@example.org", Password: "short"})
	require.ErrorIs(t, err, shared.ErrBadRequest)
	require.Len(t, accounts.created, 1)
}

func TestRegisterUpstreamFailureCreatesNothing(t *testing.T) {
	svc, repo, accounts, _ := newTestService()
	accounts.err = errors.Join(shared.ErrUpstreamAuth, errors.New("admin login refused"))

	_, err := svc.Register(context.Background(), Registration{Email: "ada@example.org", Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrUpstreamAuth)
	require.Empty(t, repo.users)
}

func TestRegisterReportsRoleFailure(t *testing.T) {
	svc, repo, _, assigner := newTestService()
	assigner.err = shared.ErrUpstreamUnavailable

	user, err := svc.Register(context.Background(), Registration{Email: "ada@example.org", Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
	require.NotZero(t, user.ID)
	require.Len(t, repo.users, 1)
}

func TestRegisterHandler(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := chi.NewRouter()
	router.Route("/auth", NewHandler(nil, svc, rbac.Middleware{}).MountPublic)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"email":"ada@example.org","password":"correct horse","first_name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"upstream_id":"ep-1"`)
	require.NotContains(t, rec.Body.String(), "password")

	require.Equal(t, http.StatusConflict, post(`{"email":"ada@example.org","password":"correct horse"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{"email":"ada@example.org"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{"email":"x@example.org","password":"correct horse","role":"admin"}`).Code)
}

func TestGetUserRoute(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()
	registered, err := svc.Register(ctx, Registration{Email: "ada@example.org", Password: "correct horse"})
	require.NoError(t, err)

	repo := rbactest.New()
	repo.AddUser(1)
	repo.AddUser(2)
	rbacSvc := rbac.NewService(repo, nil)
	_, err = rbacSvc.EnsureCatalog(ctx)
	require.NoError(t, err)
	_, err = rbacSvc.CreateRole(ctx, rbac.NewRole{Name: "lecturer", Permissions: []string{rbac.PermUpdateRole}})
	require.NoError(t, err)
	_, err = rbacSvc.CreateRole(ctx, rbac.NewRole{Name: "user", Permissions: []string{rbac.PermReadResource}})
	require.NoError(t, err)
	require.NoError(t, rbacSvc.AssignRole(ctx, 1, "lecturer"))
	require.NoError(t, rbacSvc.AssignRole(ctx, 2, "user"))

	router := chi.NewRouter()
	var caller int64
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &auth.Claims{User: auth.Subject{UserID: caller}}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	})
	router.Route("/users", NewHandler(nil, svc, rbac.Middleware{Service: rbacSvc}).MountRoutes)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	caller = 1
	rec := get(fmt.Sprintf("/users/%d", registered.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"email":"ada@example.org"`)
	require.Equal(t, http.StatusForbidden, get("/users/").Code)
	require.Equal(t, http.StatusNotFound, get("/users/99").Code)
	require.Equal(t, http.StatusBadRequest, get("/users/abc").Code)

	caller = 2
	require.Equal(t, http.StatusForbidden, get(fmt.Sprintf("/users/%d", registered.ID)).Code)
}
