package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/devpulse-io/devpulse/internal/schema"
)

const githubAPIBase = "https://api.github.com"

// thread is a GitHub notification thread as returned by the
// notifications API.
type thread struct {
	ID        string    `json:"id"`
	Unread    bool      `json:"unread"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
	Subject   struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// subjectDetail is the issue/PR detail behind a thread subject. Fetched
// to recover the item number, author and labels.
type subjectDetail struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (d *subjectDetail) labelNames() []string {
	names := make([]string, 0, len(d.Labels))
	for _, l := range d.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Client talks to the GitHub REST API with a per-call user token.
type Client struct {
	baseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = githubAPIBase
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (c *Client) httpClient(ctx context.Context, token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = 15 * time.Second
	return client
}

// ListThreads fetches the user's notification threads, read and unread.
func (c *Client) ListThreads(ctx context.Context, token string) ([]thread, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notifications?all=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("github notifications unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github notifications returned %d", resp.StatusCode)
	}

	var threads []thread
	if err := json.NewDecoder(resp.Body).Decode(&threads); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return threads, nil
}

// fetchSubject resolves the thread subject's detail record. Subject
// URLs point at the public API host; rewrite them onto the configured
// base so tests can point at a fake.
func (c *Client) fetchSubject(ctx context.Context, token, subjectURL string) (*subjectDetail, error) {
	url := strings.Replace(subjectURL, githubAPIBase, c.baseURL, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subject fetch returned %d", resp.StatusCode)
	}

	var detail subjectDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// MarkThreadRead is a pass-through write; GitHub stays authoritative
// for read state.
func (c *Client) MarkThreadRead(ctx context.Context, token, threadID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/notifications/threads/"+threadID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("github mark-read unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github mark-read returned %d", resp.StatusCode)
	}
	return nil
}

// MuteThread sets the thread subscription to ignored.
func (c *Client) MuteThread(ctx context.Context, token, threadID string) error {
	body := strings.NewReader(`{"ignored":true}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/notifications/threads/"+threadID+"/subscription", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("github mute unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github mute returned %d", resp.StatusCode)
	}
	return nil
}

// RepoAccessible reports whether the token's user can see the
// repository behind the URL. Used to validate session creation.
func (c *Client) RepoAccessible(ctx context.Context, token, repoURL string) (bool, error) {
	name := schema.RepositoryName(repoURL)
	if !strings.Contains(name, "/") {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+name, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return false, fmt.Errorf("github repo check unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("github repo check returned %d", resp.StatusCode)
	}
}
