package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Profile is what an external identity provider tells us about the user.
type Profile struct {
	ProviderID  string
	DisplayName string
	Email       string
}

// ProfileProvider is the redirect/callback handshake with an identity provider.
type ProfileProvider interface {
	AuthURL(state string) string
	Profile(ctx context.Context, code string) (Profile, error)
}

// GoogleProvider implements ProfileProvider with Google's OAuth 2.0 endpoints.
type GoogleProvider struct {
	conf        *oauth2.Config
	userInfoURL string
}

// GoogleOption customizes a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithGoogleEndpoints overrides the OAuth and userinfo endpoints.
func WithGoogleEndpoints(endpoint oauth2.Endpoint, userInfoURL string) GoogleOption {
	return func(p *GoogleProvider) {
		p.conf.Endpoint = endpoint
		p.userInfoURL = userInfoURL
	}
}

// NewGoogleProvider creates a Google provider requesting the profile and email scopes.
func NewGoogleProvider(clientID, clientSecret, callbackURL string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL builds the consent screen URL carrying state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

type googleUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile exchanges the authorization code and fetches the user's profile.
func (p *GoogleProvider) Profile(ctx context.Context, code string) (Profile, error) {
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: exchange code: %v", ErrProvider, err)
	}

	resp, err := p.conf.Client(ctx, tok).Get(p.userInfoURL)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: fetch userinfo: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: userinfo returned status %d", ErrProvider, resp.StatusCode)
	}

	var u googleUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return Profile{}, fmt.Errorf("%w: decode userinfo: %v", ErrProvider, err)
	}
	if u.ID == "" || u.Email == "" {
		return Profile{}, fmt.Errorf("%w: profile is missing id or email", ErrProvider)
	}

	return Profile{ProviderID: u.ID, DisplayName: u.Name, Email: u.Email}, nil
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
