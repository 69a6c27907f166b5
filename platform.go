package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/dghubble/oauth1"
)

const defaultPlatformBaseURL = "https://api.x.com"

// ErrUserNotFound is returned when a handle does not resolve to an account
var ErrUserNotFound = errors.New("user not found")

// Platform is the social platform capability consumed by the pipeline
type Platform interface {
	SearchRecent(ctx context.Context, q SearchQuery) (*SearchResult, error)
	UserByHandle(ctx context.Context, handle string) (*User, error)
	CreatePost(ctx context.Context, text string) (string, error)
}

// SearchQuery describes a recent-posts search
type SearchQuery struct {
	Query         string
	StartTime     time.Time // zero means platform default
	MaxResults    int
	ExpandAuthors bool
}

// Post is a platform post as returned by search
type Post struct {
	ID        string
	AuthorID  string
	CreatedAt time.Time
	Text      string
}

// User is a platform account profile
type User struct {
	ID             string
	Username       string
	Name           string
	CreatedAt      time.Time
	FollowersCount int
}

// SearchResult holds matched posts and, when requested, their authors keyed by id
type SearchResult struct {
	Posts []Post
	Users map[string]User
}

// topicQuery builds the search for verified posts about a topic
func topicQuery(topic, lang string) string {
	return fmt.Sprintf("%s lang:%s -is:retweet is:verified", topic, lang)
}

// fromQuery builds the search for posts by one account
func fromQuery(handle, lang string, verifiedOnly bool) string {
	q := fmt.Sprintf("from:%s lang:%s -is:retweet", handle, lang)
	if verifiedOnly {
		q += " is:verified"
	}
	return q
}

// PlatformCredentials holds X API credentials
type PlatformCredentials struct {
	BearerToken       string
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// XClient talks to the X API v2
type XClient struct {
	baseURL    string
	bearer     string
	reader     *http.Client // app-only bearer auth
	writer     *http.Client // OAuth 1.0a user context
	retry      RetrySettings
	normalizer *md.Converter
}

// NewXClient creates an X API client with a per-request timeout
func NewXClient(baseURL string, creds PlatformCredentials, timeout time.Duration, retry RetrySettings) *XClient {
	if baseURL == "" {
		baseURL = defaultPlatformBaseURL
	}
	base := &http.Client{Timeout: timeout}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)

	return &XClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     creds.BearerToken,
		reader:     base,
		writer:     config.Client(ctx, token),
		retry:      retry,
		normalizer: md.NewConverter("", true, &md.Options{EscapeMode: "disabled"}),
	}
}

type xUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics"`
}

type xPost struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Text      string `json:"text"`
}

type xError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type xSearchResponse struct {
	Data     []xPost `json:"data"`
	Includes struct {
		Users []xUser `json:"users"`
	} `json:"includes"`
	Errors []xError `json:"errors"`
}

type xUserResponse struct {
	Data   *xUser   `json:"data"`
	Errors []xError `json:"errors"`
}

type xCreateResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// SearchRecent searches posts from the last seven days
func (c *XClient) SearchRecent(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("max_results", strconv.Itoa(clampMaxResults(q.MaxResults)))
	params.Set("tweet.fields", "author_id,created_at,lang,text")
	if !q.StartTime.IsZero() {
		params.Set("start_time", FormatInstant(q.StartTime))
	}
	if q.ExpandAuthors {
		params.Set("expansions", "author_id")
		params.Set("user.fields", "username,name,public_metrics,created_at")
	}

	var resp xSearchResponse
	if err := c.getJSON(ctx, "/2/tweets/search/recent", params, &resp); err != nil {
		return nil, fmt.Errorf("searching %q: %w", q.Query, err)
	}

	result := &SearchResult{
		Posts: make([]Post, 0, len(resp.Data)),
		Users: make(map[string]User, len(resp.Includes.Users)),
	}
	for _, p := range resp.Data {
		result.Posts = append(result.Posts, Post{
			ID:        p.ID,
			AuthorID:  p.AuthorID,
			CreatedAt: parseInstant(p.CreatedAt),
			Text:      c.normalizeText(p.Text),
		})
	}
	for _, u := range resp.Includes.Users {
		result.Users[u.ID] = u.toUser()
	}
	return result, nil
}

// UserByHandle resolves a handle to an account
func (c *XClient) UserByHandle(ctx context.Context, handle string) (*User, error) {
	params := url.Values{}
	params.Set("user.fields", "created_at,public_metrics")

	var resp xUserResponse
	err := c.getJSON(ctx, "/2/users/by/username/"+url.PathEscape(strings.TrimPrefix(handle, "@")), params, &resp)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", handle, ErrUserNotFound)
		}
		return nil, fmt.Errorf("looking up %s: %w", handle, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%s: %w", handle, ErrUserNotFound)
	}

	user := resp.Data.toUser()
	return &user, nil
}

// CreatePost publishes text and returns the new post id
func (c *XClient) CreatePost(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("marshaling post: %w", err)
	}

	endpoint := c.baseURL + "/2/tweets"
	body, err := withRetry(ctx, c.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return do(c.writer, req)
	})
	if err != nil {
		return "", fmt.Errorf("creating post: %w", err)
	}

	var resp xCreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing create response: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("no post id in create response")
	}
	return resp.Data.ID, nil
}

func (c *XClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	body, err := withRetry(ctx, c.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.bearer)
		return do(c.reader, req)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.Path,
			Body:       preview(strings.TrimSpace(string(body)), 200),
		}
	}
	return body, nil
}

// wordPattern matches the runs between whitespace in post text
var wordPattern = regexp.MustCompile(`\S+`)

// normalizeText decodes HTML entities the API leaves in post text.
// Only words holding an entity are converted; whitespace and other words are kept byte for byte.
func (c *XClient) normalizeText(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return wordPattern.ReplaceAllStringFunc(text, func(word string) string {
		if !strings.Contains(word, "&") {
			return word
		}
		converted, err := c.normalizer.ConvertString(word)
		converted = strings.TrimSpace(converted)
		if err != nil || converted == "" {
			return word
		}
		return converted
	})
}

func (u xUser) toUser() User {
	return User{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		CreatedAt:      parseInstant(u.CreatedAt),
		FollowersCount: u.PublicMetrics.FollowersCount,
	}
}

// clampMaxResults keeps max_results inside the 10..100 range the search endpoint accepts
func clampMaxResults(n int) int {
	if n < 10 {
		return 10
	}
	if n > 100 {
		return 100
	}
	return n
}

func parseInstant(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
