package usertoken

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// RemoteVerifier asks Supabase Auth to resolve the token. It is used when
// no signing material is configured locally.
type RemoteVerifier struct {
	client *supabase.Client
}

// NewRemoteVerifier builds a verifier backed by the Supabase Auth API.
func NewRemoteVerifier(url, anonKey string) (*RemoteVerifier, error) {
	client, err := supabase.NewClient(strings.TrimRight(strings.TrimSpace(url), "/"), strings.TrimSpace(anonKey), nil)
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}
	return &RemoteVerifier{client: client}, nil
}

// Authenticate resolves token through GET /auth/v1/user.
func (v *RemoteVerifier) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user == nil {
		return Identity{}, fmt.Errorf("%w: user missing", ErrInvalidToken)
	}
	if user.ID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return Identity{UserID: user.ID.String(), Email: user.Email}, nil
}

// Chain tries each authenticator in order and returns the first success.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, token string) (Identity, error) {
	if len(c) == 0 {
		return Identity{}, errors.New("no authenticator configured")
	}
	var lastErr error
	for _, a := range c {
		id, err := a.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return Identity{}, lastErr
}
