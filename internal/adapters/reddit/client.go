package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

const (
	DefaultTokenURL   = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIBaseURL = "https://oauth.reddit.com"

	// tokenLeeway renews a token slightly before the server expires it.
	tokenLeeway = 30 * time.Second
)

// Credentials are the script-app credentials used to obtain an OAuth token.
// Username and Password are optional; without them the client uses an
// application-only token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// Client implements ports.PostLookup using the Reddit OAuth API.
type Client struct {
	TokenURL   string
	APIBaseURL string

	creds  Credentials
	client *http.Client
	logger hclog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ ports.PostLookup = (*Client)(nil)

// NewClient creates a new Client. The client id is required.
func NewClient(creds Credentials, timeout time.Duration, logger hclog.Logger) (*Client, error) {
	if creds.ClientID == "" {
		return nil, errors.New("reddit client id is not set")
	}
	if creds.UserAgent == "" {
		return nil, errors.New("reddit user agent is not set")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		TokenURL:   DefaultTokenURL,
		APIBaseURL: DefaultAPIBaseURL,
		creds:      creds,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Lookup fetches the post named by reference and extracts its video fallback URL.
func (c *Client) Lookup(ctx context.Context, reference string) (ports.PostRecord, error) {
	id, err := PostIDFromReference(reference)
	if err != nil {
		return ports.PostRecord{}, &domain.LookupError{Reference: reference, Err: err}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return ports.PostRecord{}, &domain.LookupError{Reference: reference, Err: err}
	}

	endpoint := fmt.Sprintf("%s/by_id/t3_%s?raw_json=1", strings.TrimRight(c.APIBaseURL, "/"), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.PostRecord{}, &domain.LookupError{Reference: reference, Err: err}
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return ports.PostRecord{}, &domain.LookupError{Reference: reference, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.invalidateToken()
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ports.PostRecord{}, &domain.LookupError{
			Reference:  reference,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("fetching post `%s`: %s", id, strings.TrimSpace(string(body))),
		}
	}

	var result listing
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ports.PostRecord{}, &domain.LookupError{
			Reference: reference,
			Err:       fmt.Errorf("decoding post `%s`: %w", id, err),
		}
	}
	if len(result.Data.Children) == 0 {
		return ports.PostRecord{}, &domain.LookupError{
			Reference:  reference,
			StatusCode: http.StatusNotFound,
			Err:        fmt.Errorf("post `%s` not found", id),
		}
	}

	post := result.Data.Children[0].Data
	record := ports.PostRecord{ID: post.ID, Title: post.Title}
	if fallback := post.fallbackURL(); fallback != "" {
		record.Media = &ports.PostMedia{FallbackURL: fallback}
	}
	c.logger.Debug("post looked up", "id", post.ID, "has_video", record.Media != nil)
	return record, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	if c.creds.Username != "" && c.creds.Password != "" {
		form.Set("grant_type", "password")
		form.Set("username", c.creds.Username)
		form.Set("password", c.creds.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting access token: status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding access token: %w", err)
	}
	// Bad credentials come back as 200 with an error field.
	if tok.Error != "" {
		return "", fmt.Errorf("requesting access token: %s", tok.Error)
	}
	if tok.AccessToken == "" {
		return "", errors.New("requesting access token: empty token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenLeeway)
	c.logger.Debug("access token acquired", "grant", form.Get("grant_type"), "expires_in", tok.ExpiresIn)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Media               *media `json:"media"`
	SecureMedia         *media `json:"secure_media"`
	CrosspostParentList []post `json:"crosspost_parent_list"`
}

type media struct {
	RedditVideo *struct {
		FallbackURL string `json:"fallback_url"`
	} `json:"reddit_video"`
}

func (m *media) fallbackURL() string {
	if m == nil || m.RedditVideo == nil {
		return ""
	}
	return m.RedditVideo.FallbackURL
}

// fallbackURL prefers the post's own media, then secure media, then the first
// crossposted parent.
func (p post) fallbackURL() string {
	if u := p.Media.fallbackURL(); u != "" {
		return u
	}
	if u := p.SecureMedia.fallbackURL(); u != "" {
		return u
	}
	if len(p.CrosspostParentList) > 0 {
		return p.CrosspostParentList[0].fallbackURL()
	}
	return ""
}
