// Package github implements mirror.Transport over the GitHub git-data REST
// API. Requests are never retried; callers decide whether a failed Commit is
// worth repeating.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/ironpass/mirror"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

const (
	defaultUserAgent = "ironpass"
	maxErrorBody     = 512
)

// HTTPDoer is the subset of *http.Client the transport uses.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Transport talks to one GitHub repository.
type Transport struct {
	owner     string
	repo      string
	baseURL   string
	token     string
	userAgent string
	client    HTTPDoer
}

var _ mirror.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithBaseURL points the transport at another API endpoint, such as a
// GitHub Enterprise server or a test server.
func WithBaseURL(base string) Option {
	return func(t *Transport) {
		if base != "" {
			t.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// New returns a transport for a repository URL of the form
// https://github.com/<owner>/<repo>. A trailing .git is accepted.
func New(repoURL string, opts ...Option) (*Transport, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		owner:     owner,
		repo:      repo,
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ParseRepoURL extracts owner and repository name from a repository URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url %q: %w", repoURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("invalid repository url %q: expected http(s) scheme", repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository url %q: expected /<owner>/<repo>", repoURL)
	}
	repo = strings.TrimSuffix(parts[1], ".git")
	if repo == "" {
		return "", "", fmt.Errorf("invalid repository url %q: empty repository name", repoURL)
	}
	return parts[0], repo, nil
}

// Owner returns the repository owner.
func (t *Transport) Owner() string { return t.owner }

// Repo returns the repository name.
func (t *Transport) Repo() string { return t.repo }

func (t *Transport) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/repos/%s/%s/git/%s", t.baseURL, url.PathEscape(t.owner), url.PathEscape(t.repo), strings.Join(escaped, "/"))
}

// do sends a JSON request and decodes a JSON response into out.
func (t *Transport) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", t.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &mirror.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &mirror.TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &mirror.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type commitResponse struct {
	SHA  string      `json:"sha"`
	Tree shaResponse `json:"tree"`
}

type treeResponse struct {
	SHA       string               `json:"sha"`
	Tree      []mirror.RemoteEntry `json:"tree"`
	Truncated bool                 `json:"truncated"`
}

type blobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type blobResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type treeEntryRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type treeRequest struct {
	Tree []treeEntryRequest `json:"tree"`
}

type commitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type updateRefRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

// GetRef implements mirror.Transport.
func (t *Transport) GetRef(ctx context.Context, branch string) (string, error) {
	var out refResponse
	if err := t.do(ctx, "get ref", http.MethodGet, t.endpoint("ref", "heads", branch), nil, &out); err != nil {
		return "", err
	}
	return out.Object.SHA, nil
}

// GetCommit implements mirror.Transport.
func (t *Transport) GetCommit(ctx context.Context, sha string) (string, error) {
	var out commitResponse
	if err := t.do(ctx, "get commit", http.MethodGet, t.endpoint("commits", sha), nil, &out); err != nil {
		return "", err
	}
	return out.Tree.SHA, nil
}

// GetTree implements mirror.Transport.
func (t *Transport) GetTree(ctx context.Context, sha string, recursive bool) (mirror.RemoteTree, error) {
	endpoint := t.endpoint("trees", sha)
	if recursive {
		endpoint += "?recursive=1"
	}
	var out treeResponse
	if err := t.do(ctx, "get tree", http.MethodGet, endpoint, nil, &out); err != nil {
		return mirror.RemoteTree{}, err
	}
	return mirror.RemoteTree{SHA: out.SHA, Entries: out.Tree, Truncated: out.Truncated}, nil
}

// GetBlob implements mirror.Transport.
func (t *Transport) GetBlob(ctx context.Context, sha string) ([]byte, error) {
	var out blobResponse
	if err := t.do(ctx, "get blob", http.MethodGet, t.endpoint("blobs", sha), nil, &out); err != nil {
		return nil, err
	}
	if out.Encoding != "base64" {
		return []byte(out.Content), nil
	}
	// The API wraps base64 content at 60 columns.
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, &mirror.TransportError{Op: "get blob", StatusCode: http.StatusOK, Err: fmt.Errorf("decoding blob %s: %w", sha, err)}
	}
	return data, nil
}

// CreateBlob implements mirror.Transport.
func (t *Transport) CreateBlob(ctx context.Context, data []byte) (string, error) {
	in := blobRequest{Content: base64.StdEncoding.EncodeToString(data), Encoding: "base64"}
	var out shaResponse
	if err := t.do(ctx, "create blob", http.MethodPost, t.endpoint("blobs"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateTree implements mirror.Transport. The tree is created from the full
// entry list without a base tree, so entries left out are removed.
func (t *Transport) CreateTree(ctx context.Context, entries []mirror.RemoteEntry) (string, error) {
	in := treeRequest{Tree: make([]treeEntryRequest, 0, len(entries))}
	for _, e := range entries {
		typ := e.Type
		if typ == "" {
			typ = mirror.TypeBlob
		}
		in.Tree = append(in.Tree, treeEntryRequest{Path: e.Path, Mode: e.Mode, Type: typ, SHA: e.SHA})
	}
	var out shaResponse
	if err := t.do(ctx, "create tree", http.MethodPost, t.endpoint("trees"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateCommit implements mirror.Transport.
func (t *Transport) CreateCommit(ctx context.Context, tree string, parents []string, message string) (string, error) {
	in := commitRequest{Message: message, Tree: tree, Parents: parents}
	var out shaResponse
	if err := t.do(ctx, "create commit", http.MethodPost, t.endpoint("commits"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// UpdateRef implements mirror.Transport. GitHub has no compare-and-swap on
// refs; a non-forced update is rejected unless it fast-forwards, which is
// what expectedPrevious guarantees for commits built on top of it.
func (t *Transport) UpdateRef(ctx context.Context, branch, sha, expectedPrevious string) error {
	in := updateRefRequest{SHA: sha, Force: false}
	err := t.do(ctx, "update ref", http.MethodPatch, t.endpoint("refs", "heads", branch), in, nil)
	var terr *mirror.TransportError
	if errors.As(err, &terr) && (terr.StatusCode == http.StatusConflict || terr.StatusCode == http.StatusUnprocessableEntity) {
		terr.Err = mirror.ErrRefUpdateConflict
	}
	return err
}
