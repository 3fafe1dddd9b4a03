// Package federation resolves external identity-provider access tokens
// into normalized user profiles. The engine depends only on
// [ProfileFetcher]; [HTTPFetcher] talks to the real provider APIs.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/naballard/authflow/store"
)

var (
	// ErrUnsupportedProvider is returned for providers outside the
	// known set.
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	// ErrTokenRejected is returned when the provider refuses the
	// access token.
	ErrTokenRejected = errors.New("provider rejected access token")
)

// Profile is a provider-neutral view of an external identity.
// ProviderUserID is always set; the remaining fields are best-effort.
type Profile struct {
	ProviderUserID string
	Email          string
	Name           string
	Lastname       string
	AvatarURL      string
	Login          string
}

// ProfileFetcher exchanges a provider access token for a profile.
type ProfileFetcher interface {
	Fetch(ctx context.Context, provider store.Provider, accessToken string) (Profile, error)
}

const (
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
	facebookMeURL     = "https://graph.facebook.com/v19.0/me"
)

// HTTPFetcher fetches profiles from the providers' HTTP APIs.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with a sane default timeout.
// Pass nil to use the default client.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

// Fetch dispatches to the provider-specific endpoint.
func (f *HTTPFetcher) Fetch(ctx context.Context, provider store.Provider, accessToken string) (Profile, error) {
	switch provider {
	case store.ProviderGoogle:
		return f.fetchGoogle(ctx, accessToken)
	case store.ProviderGitHub:
		return f.fetchGitHub(ctx, accessToken)
	case store.ProviderFacebook:
		return f.fetchFacebook(ctx, accessToken)
	default:
		return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

func (f *HTTPFetcher) fetchGoogle(ctx context.Context, accessToken string) (Profile, error) {
	var claims struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
	}
	if err := f.getJSON(ctx, googleUserinfoURL, accessToken, &claims); err != nil {
		return Profile{}, err
	}
	if claims.Sub == "" {
		return Profile{}, fmt.Errorf("%w: missing subject", ErrTokenRejected)
	}
	return Profile{
		ProviderUserID: claims.Sub,
		Email:          claims.Email,
		Name:           claims.GivenName,
		Lastname:       claims.FamilyName,
		AvatarURL:      claims.Picture,
	}, nil
}

func (f *HTTPFetcher) fetchGitHub(ctx context.Context, accessToken string) (Profile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := f.getJSON(ctx, githubUserURL, accessToken, &user); err != nil {
		return Profile{}, err
	}
	if user.ID == 0 {
		return Profile{}, fmt.Errorf("%w: missing user id", ErrTokenRejected)
	}

	email := user.Email
	if email == "" {
		// The /user email is only present when public; fall back to
		// the primary verified address from the emails endpoint.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := f.getJSON(ctx, githubEmailsURL, accessToken, &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					email = e.Email
					break
				}
			}
		}
	}

	return Profile{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          email,
		Name:           user.Name,
		AvatarURL:      user.AvatarURL,
		Login:          user.Login,
	}, nil
}

func (f *HTTPFetcher) fetchFacebook(ctx context.Context, accessToken string) (Profile, error) {
	u := facebookMeURL + "?" + url.Values{
		"fields": {"id,email,first_name,last_name,picture"},
	}.Encode()

	var me struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Picture   struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := f.getJSON(ctx, u, accessToken, &me); err != nil {
		return Profile{}, err
	}
	if me.ID == "" {
		return Profile{}, fmt.Errorf("%w: missing user id", ErrTokenRejected)
	}
	return Profile{
		ProviderUserID: me.ID,
		Email:          me.Email,
		Name:           me.FirstName,
		Lastname:       me.LastName,
		AvatarURL:      me.Picture.Data.URL,
	}, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: provider returned %d", ErrTokenRejected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
