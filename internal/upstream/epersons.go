package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// MetadataValue is a single repository metadata entry.
type MetadataValue struct {
	Value      string  `json:"value"`
	Language   *string `json:"language"`
	Authority  *string `json:"authority"`
	Confidence int     `json:"confidence"`
}

// Metadata maps qualified field names such as "eperson.firstname" to their values.
type Metadata map[string][]MetadataValue

// Text builds a plain metadata value with no authority control.
func Text(value string) MetadataValue {
	return MetadataValue{Value: value, Confidence: -1}
}

// EPerson is an upstream user account.
type EPerson struct {
	ID         string   `json:"id"`
	UUID       string   `json:"uuid,omitempty"`
	Name       string   `json:"name,omitempty"`
	Email      string   `json:"email"`
	CanLogIn   bool     `json:"canLogIn"`
	Metadata   Metadata `json:"metadata,omitempty"`
	LastActive string   `json:"lastActive,omitempty"`
}

// NewEPerson describes an account to create.
type NewEPerson struct {
	Email              string
	FirstName          string
	LastName           string
	CanLogIn           bool
	RequireCertificate bool
}

type epersonPayload struct {
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	CanLogIn           bool     `json:"canLogIn"`
	RequireCertificate bool     `json:"requireCertificate"`
	SelfRegistered     bool     `json:"selfRegistered"`
	Type               string   `json:"type"`
	Metadata           Metadata `json:"metadata"`
}

// CreateEPerson registers an account upstream.
func (c *Client) CreateEPerson(ctx context.Context, s Session, in NewEPerson) (EPerson, error) {
	metadata := Metadata{}
	if in.FirstName != "" {
		metadata["eperson.firstname"] = []MetadataValue{Text(in.FirstName)}
	}
	if in.LastName != "" {
		metadata["eperson.lastname"] = []MetadataValue{Text(in.LastName)}
	}
	resp, err := c.Do(ctx, Request{
		Op:     "eperson.create",
		Method: http.MethodPost,
		Path:   "eperson/epersons",
		JSON: epersonPayload{
			Name:               strings.ToLower(in.Email),
			Email:              strings.ToLower(in.Email),
			CanLogIn:           in.CanLogIn,
			RequireCertificate: in.RequireCertificate,
			Type:               "eperson",
			Metadata:           metadata,
		},
	}.WithSession(s))
	if err != nil {
		return EPerson{}, err
	}
	var person EPerson
	if err := resp.Decode(&person); err != nil {
		return EPerson{}, err
	}
	return person, nil
}

// EPersonURI is the resource URI used in text/uri-list membership bodies.
func (c *Client) EPersonURI(id string) string {
	return c.URL("eperson/epersons/" + url.PathEscape(id))
}
