package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/validate"
)

const (
	firstLastField = "firstLast"
	maxAboutLength = 150
)

// ProfileUpdater mirrors profile changes into the auth provider.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, userID, displayName, photoURL string) error
}

type Client struct {
	gw       gateway.Gateway
	profiles ProfileUpdater
}

// NewClient returns a Client. profiles may be nil, profile updates then
// only touch the users record.
func NewClient(gw gateway.Gateway, profiles ProfileUpdater) *Client {
	return &Client{gw: gw, profiles: profiles}
}

// GetUserData reads users/{userID} once. It returns nil when there is no
// such user.
func (c *Client) GetUserData(ctx context.Context, userID string) (*contract.User, error) {
	snap, err := c.gw.ReadOnce(ctx, gateway.User(userID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	u, err := contract.DecodeUser(userID, snap.Value)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchUser is GetUserData, it lets a Client serve as a session user fetcher.
func (c *Client) FetchUser(ctx context.Context, userID string) (*contract.User, error) {
	return c.GetUserData(ctx, userID)
}

// SearchUsers returns every user whose firstLast starts with the lower cased
// term, without excludeID. An empty term matches nobody.
func (c *Client) SearchUsers(ctx context.Context, term, excludeID string) (map[string]contract.User, error) {
	searchTerm := strings.ToLower(term)
	if searchTerm == "" {
		return map[string]contract.User{}, nil
	}
	snap, err := c.gw.QueryPrefix(ctx, gateway.Users(), firstLastField, searchTerm)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	users, _, err := contract.DecodeUsers(snap.Value)
	if err != nil {
		return nil, err
	}
	delete(users, excludeID)
	return users, nil
}

type Profile struct {
	FirstName      string
	LastName       string
	About          string
	ProfilePicture string
}

// FirstLast is the lower cased search key derived from the names.
func FirstLast(firstName, lastName string) string {
	return strings.ToLower(firstName + lastName)
}

// UpdateProfile validates p, merges it into users/{userID} together with the
// derived firstLast and forwards the display name and picture to the auth
// provider. Fields not part of a profile, like email, are kept.
func (c *Client) UpdateProfile(ctx context.Context, userID string, p Profile) (*contract.User, error) {
	errs := validate.Errors{}
	errs.Add("firstName", validate.String("firstName", p.FirstName))
	errs.Add("lastName", validate.String("lastName", p.LastName))
	errs.Add("about", validate.Length("about", p.About, 0, maxAboutLength, true))
	if err := errs.Err(); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"userId":    userID,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"firstLast": FirstLast(p.FirstName, p.LastName),
		"about":     p.About,
	}
	if p.ProfilePicture != "" {
		fields["profilePicture"] = p.ProfilePicture
	}
	if err := c.gw.Update(ctx, gateway.User(userID), fields); err != nil {
		return nil, fmt.Errorf("update user record: %w", err)
	}

	if c.profiles != nil {
		displayName := contract.User{FirstName: p.FirstName, LastName: p.LastName}.FullName()
		if err := c.profiles.UpdateProfile(ctx, userID, displayName, p.ProfilePicture); err != nil {
			return nil, fmt.Errorf("update auth profile: %w", err)
		}
	}
	return c.GetUserData(ctx, userID)
}
