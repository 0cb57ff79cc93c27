// Package video issues conferencing rooms for confirmed appointments. The
// conferencing transport itself is an external service; this package only
// mints the room identifier and join URL the clients embed.
package video

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type Room struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// RoomIssuer creates a room for one appointment.
type RoomIssuer interface {
	IssueRoom(ctx context.Context, appointmentID uuid.UUID) (Room, error)
}

// LinkIssuer derives rooms locally as <baseURL>/<room id>, where the room
// id is "telemed-" followed by a random UUID.
type LinkIssuer struct {
	base *url.URL
}

func NewLinkIssuer(baseURL string) (*LinkIssuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse video base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("video base url must be http(s), got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("video base url %q has no host", baseURL)
	}
	return &LinkIssuer{base: u}, nil
}

func (l *LinkIssuer) IssueRoom(_ context.Context, _ uuid.UUID) (Room, error) {
	id := "telemed-" + uuid.NewString()
	u := *l.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + id
	return Room{ID: id, URL: u.String()}, nil
}
