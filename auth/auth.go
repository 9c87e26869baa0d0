package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"firebase.google.com/go/v4/auth"
)

// ErrUnauthenticated is returned when a request carries no valid ID token.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenVerifier is satisfied by *auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Authenticate verifies the bearer ID token of req and returns the signed-in
// user id.
func Authenticate(req *http.Request, verifier TokenVerifier) (string, error) {
	jwtToken, err := BearerTokenFromRequest(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	token, err := verifier.VerifyIDToken(req.Context(), jwtToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if token.UID == "" {
		return "", fmt.Errorf("%w: token without uid", ErrUnauthenticated)
	}
	return token.UID, nil
}

// UserUpdater is satisfied by *auth.Client.
type UserUpdater interface {
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

// Profiles mirrors display name and photo changes into the auth user record.
type Profiles struct {
	users UserUpdater
}

func NewProfiles(users UserUpdater) *Profiles {
	return &Profiles{users: users}
}

// UpdateProfile sets the display name and, when photoURL is not empty, the
// photo of userID.
func (p *Profiles) UpdateProfile(ctx context.Context, userID, displayName, photoURL string) error {
	params := (&auth.UserToUpdate{}).DisplayName(displayName)
	if photoURL != "" {
		params = params.PhotoURL(photoURL)
	}
	if _, err := p.users.UpdateUser(ctx, userID, params); err != nil {
		return fmt.Errorf("update auth user %s: %w", userID, err)
	}
	return nil
}
