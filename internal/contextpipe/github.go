// Package contextpipe builds the enrichment context handed to the LLM
// fallback chain for a backlog project: a GitHub repository summary plus
// up to five attached documents, composed into a single bounded prompt.
package contextpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	readmeMaxChars    = 2500
	fileTreeMaxEntries = 40
	githubTimeout      = 15 * time.Second
)

var repoLinkPattern = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s.]+)(?:\.git)?`)

// RepoRef is a parsed owner/repo pair extracted from a BacklogProject's
// githubLink.
type RepoRef struct {
	Owner string
	Repo  string
}

// ParseGithubLink accepts "github.com/owner/repo[.git][/...]" in any
// scheme/host prefix and returns the owner/repo pair, or false if the
// link does not match.
func ParseGithubLink(link string) (RepoRef, bool) {
	m := repoLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return RepoRef{}, false
	}
	return RepoRef{Owner: m[1], Repo: m[2]}, true
}

// GithubClient fetches README, file tree, and manifest content from the
// GitHub REST API, trying the branches in order and stopping at the
// first that succeeds.
type GithubClient struct {
	httpClient *http.Client
	baseURL    string // override for tests
	token      string
}

// NewGithubClient builds a client with the 15s timeout required for
// context enrichment requests.
func NewGithubClient(token string) *GithubClient {
	return &GithubClient{
		httpClient: &http.Client{Timeout: githubTimeout},
		baseURL:    "https://api.github.com",
		token:      token,
	}
}

// RepoSummary is the reduced, bounded view of a repository used in the
// enrichment prompt.
type RepoSummary struct {
	Branch      string
	README      string
	FileTree    []string
	FileTreeMore int
	Manifest    *Manifest
}

// Manifest is the reduced package manifest: name, version, and
// dependency/devDependency keys only — never full version specs.
type Manifest struct {
	Name            string
	Version         string
	Dependencies    []string
	DevDependencies []string
}

var branchOrder = []string{"main", "master"}

// FetchRepoSummary tries main then master, stopping at the first branch
// for which the README fetch succeeds. Per-section failures (file tree,
// manifest) degrade gracefully rather than aborting the branch attempt.
func (c *GithubClient) FetchRepoSummary(ctx context.Context, ref RepoRef) (*RepoSummary, error) {
	var lastErr error
	for _, branch := range branchOrder {
		readme, err := c.fetchReadme(ctx, ref, branch)
		if err != nil {
			lastErr = err
			continue
		}
		summary := &RepoSummary{Branch: branch, README: truncate(readme, readmeMaxChars)}
		if tree, more, err := c.fetchFileTree(ctx, ref, branch); err == nil {
			summary.FileTree = tree
			summary.FileTreeMore = more
		}
		if manifest, err := c.fetchManifest(ctx, ref, branch); err == nil {
			summary.Manifest = manifest
		}
		return summary, nil
	}
	return nil, fmt.Errorf("contextpipe: no branch succeeded for %s/%s: %w", ref.Owner, ref.Repo, lastErr)
}

func (c *GithubClient) fetchReadme(ctx context.Context, ref RepoRef, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/readme?ref=%s", c.baseURL, ref.Owner, ref.Repo, branch)
	var payload struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return "", err
	}
	if payload.Encoding == "base64" {
		return decodeBase64Loose(payload.Content), nil
	}
	return payload.Content, nil
}

func (c *GithubClient) fetchFileTree(ctx context.Context, ref RepoRef, branch string) ([]string, int, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.baseURL, ref.Owner, ref.Repo, branch)
	var payload struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, 0, err
	}
	var paths []string
	for _, e := range payload.Tree {
		if e.Type == "blob" {
			paths = append(paths, e.Path)
		}
	}
	if len(paths) <= fileTreeMaxEntries {
		return paths, 0, nil
	}
	return paths[:fileTreeMaxEntries], len(paths) - fileTreeMaxEntries, nil
}

var manifestCandidates = []string{"package.json"}

func (c *GithubClient) fetchManifest(ctx context.Context, ref RepoRef, branch string) (*Manifest, error) {
	for _, name := range manifestCandidates {
		url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.baseURL, ref.Owner, ref.Repo, name, branch)
		var payload struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := c.getJSON(ctx, url, &payload); err != nil {
			continue
		}
		raw := payload.Content
		if payload.Encoding == "base64" {
			raw = decodeBase64Loose(raw)
		}
		var parsed struct {
			Name            string            `json:"name"`
			Version         string            `json:"version"`
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			continue
		}
		return &Manifest{
			Name:            parsed.Name,
			Version:         parsed.Version,
			Dependencies:    sortedKeys(parsed.Dependencies),
			DevDependencies: sortedKeys(parsed.DevDependencies),
		}, nil
	}
	return nil, fmt.Errorf("contextpipe: no manifest found on branch %s", branch)
}

func (c *GithubClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("contextpipe: GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// decodeBase64Loose decodes GitHub's base64 content blobs, which embed
// newlines every 60 characters; std base64 rejects those, so strip first.
func decodeBase64Loose(s string) string {
	cleaned := strings.ReplaceAll(s, "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return ""
	}
	return string(decoded)
}
