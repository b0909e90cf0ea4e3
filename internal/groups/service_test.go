package groups

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

type fakeSessions struct {
	current   upstream.Session
	refreshes int
	err       error
}

func (f *fakeSessions) PrivilegedSession(context.Context) (upstream.Session, error) {
	return f.current, f.err
}

func (f *fakeSessions) RefreshPrivileged(context.Context) (upstream.Session, error) {
	f.refreshes++
	f.current = upstream.Session{CSRFToken: "csrf-fresh", BearerToken: "bearer-fresh"}
	return f.current, f.err
}

type fakeUpstream struct {
	groups     map[string]upstream.Group
	members    map[string][]string
	gets       int
	failMember string
	validToken string
	sessions   []upstream.Session
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{groups: map[string]upstream.Group{}, members: map[string][]string{}}
}

func (f *fakeUpstream) check(s upstream.Session) error {
	f.sessions = append(f.sessions, s)
	if f.validToken != "" && s.BearerToken != f.validToken {
		return &upstream.StatusError{Status: http.StatusUnauthorized, URL: "eperson/groups"}
	}
	return nil
}

func (f *fakeUpstream) CreateGroup(_ context.Context, s upstream.Session, in upstream.NewGroup) (upstream.Group, error) {
	if err := f.check(s); err != nil {
		return upstream.Group{}, err
	}
	g := upstream.Group{ID: "g-" + in.Name, Name: in.Name}
	f.groups[g.ID] = g
	return g, nil
}

func (f *fakeUpstream) GetGroup(_ context.Context, s upstream.Session, id string) (upstream.Group, error) {
	f.gets++
	if err := f.check(s); err != nil {
		return upstream.Group{}, err
	}
	g, ok := f.groups[id]
	if !ok {
		return upstream.Group{}, &upstream.StatusError{Status: http.StatusNotFound}
	}
	return g, nil
}

func (f *fakeUpstream) RenameGroup(_ context.Context, s upstream.Session, id, name string) (upstream.Group, error) {
	if err := f.check(s); err != nil {
		return upstream.Group{}, err
	}
	g := f.groups[id]
	g.Name = name
	f.groups[id] = g
	return g, nil
}

func (f *fakeUpstream) DeleteGroup(_ context.Context, s upstream.Session, id string) error {
	if err := f.check(s); err != nil {
		return err
	}
	if _, ok := f.groups[id]; !ok {
		return &upstream.StatusError{Status: http.StatusNotFound}
	}
	delete(f.groups, id)
	return nil
}

func (f *fakeUpstream) AddMember(_ context.Context, s upstream.Session, groupID, epersonID string) error {
	if err := f.check(s); err != nil {
		return err
	}
	if epersonID == f.failMember {
		return &upstream.StatusError{Status: http.StatusUnprocessableEntity}
	}
	f.members[groupID] = append(f.members[groupID], epersonID)
	return nil
}

func (f *fakeUpstream) RemoveMember(_ context.Context, s upstream.Session, groupID, epersonID string) error {
	if err := f.check(s); err != nil {
		return err
	}
	kept := f.members[groupID][:0]
	for _, id := range f.members[groupID] {
		if id != epersonID {
			kept = append(kept, id)
		}
	}
	f.members[groupID] = kept
	return nil
}

func (f *fakeUpstream) ListMembers(_ context.Context, s upstream.Session, groupID string) ([]upstream.EPerson, error) {
	if err := f.check(s); err != nil {
		return nil, err
	}
	var out []upstream.EPerson
	for _, id := range f.members[groupID] {
		out = append(out, upstream.EPerson{ID: id})
	}
	return out, nil
}

func (f *fakeUpstream) CreateEPerson(_ context.Context, s upstream.Session, in upstream.NewEPerson) (upstream.EPerson, error) {
	if err := f.check(s); err != nil {
		return upstream.EPerson{}, err
	}
	return upstream.EPerson{ID: "e-" + in.Email, Email: in.Email, CanLogIn: in.CanLogIn}, nil
}

func newTestService(t *testing.T) (*Service, *fakeSessions, *fakeUpstream) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := &fakeSessions{current: upstream.Session{CSRFToken: "csrf", BearerToken: "bearer"}}
	up := newFakeUpstream()
	svc := NewService(Options{Sessions: sessions, Upstream: up, Store: cache.NewRedisStore(client)})
	return svc, sessions, up
}

func TestCreateGroupUsesPrivilegedSession(t *testing.T) {
	svc, _, up := newTestService(t)

	id, err := svc.CreateGroup(context.Background(), NewGroup{Role: "lecturer", Description: "Lecturers"})
	require.NoError(t, err)
	require.Equal(t, "g-lecturer", id)
	require.Equal(t, []upstream.Session{{CSRFToken: "csrf", BearerToken: "bearer"}}, up.sessions)

	_, err = svc.CreateGroup(context.Background(), NewGroup{})
	require.ErrorIs(t, err, shared.ErrBadRequest)
}

func TestPrivilegedSessionFailureAbortsOperation(t *testing.T) {
	svc, sessions, up := newTestService(t)
	sessions.err = errors.Join(shared.ErrUpstreamAuth, errors.New("login refused"))

	err := svc.LinkUser(context.Background(), "g-1", "e-1")
	require.ErrorIs(t, err, shared.ErrUpstreamAuth)
	require.Empty(t, up.sessions)
}

func TestUnauthorizedTriggersOneRenegotiation(t *testing.T) {
	svc, sessions, up := newTestService(t)
	up.validToken = "bearer-fresh"

	require.NoError(t, svc.LinkUser(context.Background(), "g-1", "e-1"))
	require.Equal(t, 1, sessions.refreshes)
	require.Len(t, up.sessions, 2)
	require.Equal(t, []string{"e-1"}, up.members["g-1"])

	up.validToken = "never"
	err := svc.LinkUser(context.Background(), "g-1", "e-2")
	require.True(t, upstream.IsStatus(err, http.StatusUnauthorized))
	require.Equal(t, 2, sessions.refreshes)
}

func TestLinkUsersReportsPartialProgress(t *testing.T) {
	svc, _, up := newTestService(t)
	up.failMember = "e-3"

	linked, err := svc.LinkUsers(context.Background(), "g-1", []string{"e-1", "e-2", "e-3", "e-4"})
	require.Equal(t, []string{"e-1", "e-2"}, linked)
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	require.Equal(t, "e-3", linkErr.Failed)
	require.Equal(t, []string{"e-1", "e-2"}, up.members["g-1"])

	require.NoError(t, svc.UnlinkUser(context.Background(), "g-1", "e-1"))
	members, err := svc.Members(context.Background(), "g-1")
	require.NoError(t, err)
	require.Equal(t, []upstream.EPerson{{ID: "e-2"}}, members)
}

func TestGetGroupIsCachedUntilMutated(t *testing.T) {
	svc, _, up := newTestService(t)
	ctx := context.Background()
	id, err := svc.CreateGroup(ctx, NewGroup{Name: "students", Role: "student"})
	require.NoError(t, err)

	for range 3 {
		g, err := svc.GetGroup(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "students", g.Name)
	}
	require.Equal(t, 1, up.gets)

	_, err = svc.RenameGroup(ctx, id, "learners")
	require.NoError(t, err)
	g, err := svc.GetGroup(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "learners", g.Name)
	require.Equal(t, 2, up.gets)
}

func TestDeleteGroupToleratesMissingGroup(t *testing.T) {
	svc, _, up := newTestService(t)
	ctx := context.Background()
	id, err := svc.CreateGroup(ctx, NewGroup{Role: "admin"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGroup(ctx, id))
	require.Empty(t, up.groups)
	require.NoError(t, svc.DeleteGroup(ctx, id))
}

func TestCreateEPerson(t *testing.T) {
	svc, _, _ := newTestService(t)

	person, err := svc.CreateEPerson(context.Background(), upstream.NewEPerson{Email: "ada@example.org", CanLogIn: true})
	require.NoError(t, err)
	require.Equal(t, "e-ada@example.org", person.ID)
}
