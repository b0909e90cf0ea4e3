// Package groups mirrors local roles onto upstream groups and manages their membership.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// DefaultGroupTTL bounds how long a fetched group is served from cache.
const DefaultGroupTTL = 5 * time.Minute

// SessionSource hands out the privileged upstream session.
type SessionSource interface {
	PrivilegedSession(ctx context.Context) (upstream.Session, error)
	RefreshPrivileged(ctx context.Context) (upstream.Session, error)
}

// Upstream is the subset of the upstream client used for group management.
type Upstream interface {
	CreateGroup(ctx context.Context, s upstream.Session, in upstream.NewGroup) (upstream.Group, error)
	GetGroup(ctx context.Context, s upstream.Session, id string) (upstream.Group, error)
	RenameGroup(ctx context.Context, s upstream.Session, id, name string) (upstream.Group, error)
	DeleteGroup(ctx context.Context, s upstream.Session, id string) error
	AddMember(ctx context.Context, s upstream.Session, groupID, epersonID string) error
	RemoveMember(ctx context.Context, s upstream.Session, groupID, epersonID string) error
	ListMembers(ctx context.Context, s upstream.Session, groupID string) ([]upstream.EPerson, error)
	CreateEPerson(ctx context.Context, s upstream.Session, in upstream.NewEPerson) (upstream.EPerson, error)
}

// NewGroup describes the upstream group created for a role.
type NewGroup struct {
	Name        string
	Description string
	Role        string
}

// LinkError reports a bulk link that stopped midway. Linked holds the ids processed before Failed.
type LinkError struct {
	GroupID string
	Linked  []string
	Failed  string
	Err     error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("groups: link %s into %s failed after %d members: %v", e.Failed, e.GroupID, len(e.Linked), e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Options configures a Service.
type Options struct {
	Sessions SessionSource
	Upstream Upstream
	Store    cache.Store
	TTL      time.Duration
	Logger   *slog.Logger
}

// Service performs group operations with the privileged upstream session.
type Service struct {
	sessions SessionSource
	upstream Upstream
	store    cache.Store
	ttl      time.Duration
	logger   *slog.Logger
}

// NewService constructs a Service. A nil Store disables group caching.
func NewService(opts Options) *Service {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultGroupTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: opts.Sessions,
		upstream: opts.Upstream,
		store:    opts.Store,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "groups")),
	}
}

// CreateGroup creates the upstream group mirroring a role and returns its id.
// The group name defaults to the role name.
func (s *Service) CreateGroup(ctx context.Context, in NewGroup) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = strings.TrimSpace(in.Role)
	}
	if name == "" {
		return "", fmt.Errorf("groups: group name required: %w", shared.ErrBadRequest)
	}
	var group upstream.Group
	err := s.privileged(ctx, "create group", func(sess upstream.Session) error {
		var err error
		group, err = s.upstream.CreateGroup(ctx, sess, upstream.NewGroup{Name: name, Description: in.Description})
		return err
	})
	if err != nil {
		return "", err
	}
	id := groupID(group)
	if id == "" {
		return "", &upstream.ProtocolError{Op: "group.create", Detail: "response carries no group id"}
	}
	s.logger.InfoContext(ctx, "upstream group created", slog.String("group_id", id), slog.String("name", name), slog.String("role", in.Role))
	return id, nil
}

// GetGroup returns a group, served from cache when possible.
func (s *Service) GetGroup(ctx context.Context, id string) (upstream.Group, error) {
	fetch := func(ctx context.Context) (upstream.Group, error) {
		var group upstream.Group
		err := s.privileged(ctx, "get group", func(sess upstream.Session) error {
			var err error
			group, err = s.upstream.GetGroup(ctx, sess, id)
			return err
		})
		return group, err
	}
	if s.store == nil {
		return fetch(ctx)
	}
	return cache.GetOrFetch(ctx, s.store, cacheKey(id), s.ttl, fetch)
}

// RenameGroup changes a group name and drops its cached copy.
func (s *Service) RenameGroup(ctx context.Context, id, name string) (upstream.Group, error) {
	var group upstream.Group
	err := s.privileged(ctx, "rename group", func(sess upstream.Session) error {
		var err error
		group, err = s.upstream.RenameGroup(ctx, sess, id, name)
		return err
	})
	if err != nil {
		return upstream.Group{}, err
	}
	s.invalidate(ctx, id)
	return group, nil
}

// DeleteGroup removes a group upstream. A group already gone upstream is not an error.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	err := s.privileged(ctx, "delete group", func(sess upstream.Session) error {
		return s.upstream.DeleteGroup(ctx, sess, id)
	})
	if err != nil && !upstream.IsStatus(err, http.StatusNotFound) {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.InfoContext(ctx, "upstream group deleted", slog.String("group_id", id))
	return nil
}

// LinkUser adds one eperson to a group.
func (s *Service) LinkUser(ctx context.Context, groupID, userUpstreamID string) error {
	return s.privileged(ctx, "link user", func(sess upstream.Session) error {
		return s.upstream.AddMember(ctx, sess, groupID, userUpstreamID)
	})
}

// UnlinkUser removes one eperson from a group.
func (s *Service) UnlinkUser(ctx context.Context, groupID, userUpstreamID string) error {
	return s.privileged(ctx, "unlink user", func(sess upstream.Session) error {
		return s.upstream.RemoveMember(ctx, sess, groupID, userUpstreamID)
	})
}

// LinkUsers links ids one at a time. It is not transactional: on failure the
// ids linked so far stay linked and are returned alongside a *LinkError.
func (s *Service) LinkUsers(ctx context.Context, groupID string, userUpstreamIDs []string) ([]string, error) {
	linked := make([]string, 0, len(userUpstreamIDs))
	for _, id := range userUpstreamIDs {
		if err := ctx.Err(); err != nil {
			return linked, &LinkError{GroupID: groupID, Linked: linked, Failed: id, Err: err}
		}
		if err := s.LinkUser(ctx, groupID, id); err != nil {
			s.logger.WarnContext(ctx, "bulk link stopped", slog.String("group_id", groupID), slog.Int("linked", len(linked)), slog.String("failed", id), slog.Any("error", err))
			return linked, &LinkError{GroupID: groupID, Linked: linked, Failed: id, Err: err}
		}
		linked = append(linked, id)
	}
	return linked, nil
}

// CreateEPerson registers an upstream account so it can be linked into groups.
func (s *Service) CreateEPerson(ctx context.Context, in upstream.NewEPerson) (upstream.EPerson, error) {
	var person upstream.EPerson
	err := s.privileged(ctx, "create eperson", func(sess upstream.Session) error {
		var err error
		person, err = s.upstream.CreateEPerson(ctx, sess, in)
		return err
	})
	if err != nil {
		return upstream.EPerson{}, err
	}
	if person.ID == "" {
		return upstream.EPerson{}, &upstream.ProtocolError{Op: "eperson.create", Detail: "response carries no eperson id"}
	}
	s.logger.InfoContext(ctx, "upstream eperson created", slog.String("eperson_id", person.ID))
	return person, nil
}

// Members lists the direct members of a group.
func (s *Service) Members(ctx context.Context, groupID string) ([]upstream.EPerson, error) {
	var members []upstream.EPerson
	err := s.privileged(ctx, "list members", func(sess upstream.Session) error {
		var err error
		members, err = s.upstream.ListMembers(ctx, sess, groupID)
		return err
	})
	return members, err
}

// privileged runs call with the admin session, re-negotiating the session once if upstream answers 401.
func (s *Service) privileged(ctx context.Context, op string, call func(upstream.Session) error) error {
	sess, err := s.sessions.PrivilegedSession(ctx)
	if err != nil {
		return fmt.Errorf("groups: %s: %w", op, err)
	}
	err = call(sess)
	if !upstream.IsStatus(err, http.StatusUnauthorized) {
		return wrap(op, err)
	}
	s.logger.InfoContext(ctx, "privileged session rejected, re-negotiating", slog.String("op", op))
	sess, err = s.sessions.RefreshPrivileged(ctx)
	if err != nil {
		return fmt.Errorf("groups: %s: %w", op, err)
	}
	return wrap(op, call(sess))
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, cacheKey(id)); err != nil && !errors.Is(err, cache.ErrMiss) {
		s.logger.WarnContext(ctx, "group cache invalidation failed", slog.String("group_id", id), slog.Any("error", err))
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("groups: %s: %w", op, err)
}

func groupID(g upstream.Group) string {
	if g.ID != "" {
		return g.ID
	}
	return g.UUID
}

func cacheKey(id string) string {
	return "group:" + id
}
