package upstream

import (
	"context"
	"net/http"
	"net/url"
)

// Group is an upstream eperson group.
type Group struct {
	ID        string   `json:"id"`
	UUID      string   `json:"uuid,omitempty"`
	Name      string   `json:"name"`
	Permanent bool     `json:"permanent"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// NewGroup describes a group to create.
type NewGroup struct {
	Name        string
	Description string
}

type groupPayload struct {
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata,omitempty"`
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

type epersonPage struct {
	Embedded struct {
		EPersons []EPerson `json:"epersons"`
	} `json:"_embedded"`
}

func groupPath(id string) string {
	return "eperson/groups/" + url.PathEscape(id)
}

// CreateGroup creates a group upstream.
func (c *Client) CreateGroup(ctx context.Context, s Session, in NewGroup) (Group, error) {
	payload := groupPayload{Name: in.Name}
	if in.Description != "" {
		payload.Metadata = Metadata{"dc.description": {Text(in.Description)}}
	}
	resp, err := c.Do(ctx, Request{
		Op:     "group.create",
		Method: http.MethodPost,
		Path:   "eperson/groups",
		JSON:   payload,
	}.WithSession(s))
	if err != nil {
		return Group{}, err
	}
	var group Group
	if err := resp.Decode(&group); err != nil {
		return Group{}, err
	}
	return group, nil
}

// GetGroup fetches a group by id.
func (c *Client) GetGroup(ctx context.Context, s Session, id string) (Group, error) {
	resp, err := c.Do(ctx, Request{Op: "group.get", Method: http.MethodGet, Path: groupPath(id)}.WithSession(s))
	if err != nil {
		return Group{}, err
	}
	var group Group
	if err := resp.Decode(&group); err != nil {
		return Group{}, err
	}
	return group, nil
}

// RenameGroup replaces the group name with a JSON patch.
func (c *Client) RenameGroup(ctx context.Context, s Session, id, name string) (Group, error) {
	resp, err := c.Do(ctx, Request{
		Op:          "group.rename",
		Method:      http.MethodPatch,
		Path:        groupPath(id),
		JSON:        []patchOp{{Op: "replace", Path: "/name", Value: name}},
		ContentType: "application/json-patch+json",
	}.WithSession(s))
	if err != nil {
		return Group{}, err
	}
	var group Group
	if err := resp.Decode(&group); err != nil {
		return Group{}, err
	}
	return group, nil
}

// DeleteGroup removes a group upstream.
func (c *Client) DeleteGroup(ctx context.Context, s Session, id string) error {
	_, err := c.Do(ctx, Request{Op: "group.delete", Method: http.MethodDelete, Path: groupPath(id)}.WithSession(s))
	return err
}

// AddMember adds an eperson to a group using a text/uri-list body.
func (c *Client) AddMember(ctx context.Context, s Session, groupID, epersonID string) error {
	_, err := c.Do(ctx, Request{
		Op:          "group.member.add",
		Method:      http.MethodPost,
		Path:        groupPath(groupID) + "/epersons",
		Body:        []byte(c.EPersonURI(epersonID) + "\n"),
		ContentType: "text/uri-list",
	}.WithSession(s))
	return err
}

// RemoveMember removes an eperson from a group.
func (c *Client) RemoveMember(ctx context.Context, s Session, groupID, epersonID string) error {
	_, err := c.Do(ctx, Request{
		Op:     "group.member.remove",
		Method: http.MethodDelete,
		Path:   groupPath(groupID) + "/epersons/" + url.PathEscape(epersonID),
	}.WithSession(s))
	return err
}

// ListMembers returns the direct members of a group.
func (c *Client) ListMembers(ctx context.Context, s Session, groupID string) ([]EPerson, error) {
	resp, err := c.Do(ctx, Request{
		Op:     "group.member.list",
		Method: http.MethodGet,
		Path:   groupPath(groupID) + "/epersons",
	}.WithSession(s))
	if err != nil {
		return nil, err
	}
	var page epersonPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	return page.Embedded.EPersons, nil
}
