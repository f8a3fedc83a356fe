package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIURL = "https://api.github.com"

// githubProvider signs users in with GitHub's OAuth2 flow. GitHub has no ID
// token, so the profile comes from the REST API.
type githubProvider struct {
	endpoints
	cfg    Config
	client *http.Client
	oauth2 *oauth2.Config
	apiURL string
}

func newGithubProvider(paths endpoints, cfg Config, client *http.Client) *githubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	apiURL := githubAPIURL
	if cfg.APIURL != "" {
		apiURL = strings.TrimRight(cfg.APIURL, "/")
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &githubProvider{
		endpoints: paths,
		cfg:       cfg,
		client:    client,
		apiURL:    apiURL,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  paths.redirectURL(),
			Scopes:       []string{"read:user", "user:email"},
		},
	}
}

// Initialize has nothing to discover for GitHub
func (p *githubProvider) Initialize(ctx context.Context) error {
	return nil
}

func (p *githubProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the code for a token and loads the user. A private email
// is looked up among the user's verified addresses.
func (p *githubProvider) Exchange(ctx context.Context, code string) (*Profile, *oauth2.Token, error) {
	if code == "" {
		return nil, nil, fmt.Errorf("missing authorization code")
	}
	ctx = withClient(ctx, p.client)

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	api := p.oauth2.Client(ctx, token)

	var user githubUser
	if err := p.getJSON(ctx, api, "/user", &user); err != nil {
		return nil, nil, err
	}
	if user.ID == 0 {
		return nil, nil, fmt.Errorf("missing user ID in GitHub response")
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, api, "/user/emails", &emails); err != nil {
			return nil, nil, err
		}
		email = primaryEmail(emails)
	}
	if email == "" {
		return nil, nil, fmt.Errorf("GitHub account has no verified email")
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &Profile{
		Provider:   p.name,
		ExternalID: strconv.FormatInt(user.ID, 10),
		Email:      email,
		Name:       name,
		Attributes: map[string]string{"login": user.Login},
	}, token, nil
}

func primaryEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}

func (p *githubProvider) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s request failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// RefreshToken renews tokens of GitHub apps that expire user tokens. Classic
// OAuth apps issue no refresh token and never reach this.
func (p *githubProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := p.oauth2.TokenSource(withClient(ctx, p.client), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh github token: %w", err)
	}
	return token, nil
}

// TestSetup posts a bogus code to the token endpoint. GitHub answers 200
// with an error body, which the oauth2 package does not surface, so the
// probe reads the response itself.
func (p *githubProvider) TestSetup(ctx context.Context) error {
	form := url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"code":          {setupProbeToken},
		"redirect_uri":  {p.oauth2.RedirectURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauth2.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint is unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unexpected token endpoint response (status %d): %w", resp.StatusCode, err)
	}
	if rejectedClientCodes[body.Error] {
		return fmt.Errorf("client credentials were rejected: %s", body.Error)
	}
	return nil
}
