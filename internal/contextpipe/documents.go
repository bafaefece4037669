package contextpipe

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	documentMaxChars  = 3000
	documentMaxCount  = 5
	documentFetchTimeout = 15 * time.Second
	userAgent            = "kanban-orchestrator/context-pipeline"
)

// BoardDocument is the minimal view of board.Document needed here,
// decoupled from the board package to keep contextpipe dependency-free
// of storage concerns.
type BoardDocument struct {
	Name    string
	URL     string
	Content string
}

var (
	scriptStyleTagPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</\s*\1\s*>`)
	anyTagPattern         = regexp.MustCompile(`(?s)<[^>]+>`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

// stripHTML removes script/style blocks first, then all remaining tags,
// then collapses whitespace. No library in the dependency set parses
// HTML; this is a best-effort text extraction, not a full DOM walk.
func stripHTML(s string) string {
	s = scriptStyleTagPattern.ReplaceAllString(s, " ")
	s = anyTagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ResolvedDocument is a document section ready for prompt composition.
type ResolvedDocument struct {
	Name    string
	Content string
	Failed  bool
}

// ResolveDocuments fetches or inlines up to documentMaxCount documents.
// Per-document failures become a placeholder section and never abort
// the batch.
func ResolveDocuments(ctx context.Context, docs []BoardDocument) []ResolvedDocument {
	if len(docs) > documentMaxCount {
		docs = docs[:documentMaxCount]
	}
	client := &http.Client{Timeout: documentFetchTimeout}
	out := make([]ResolvedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, resolveOne(ctx, client, d))
	}
	return out
}

func resolveOne(ctx context.Context, client *http.Client, d BoardDocument) ResolvedDocument {
	if d.Content != "" {
		return ResolvedDocument{Name: d.Name, Content: truncate(stripHTML(d.Content), documentMaxChars)}
	}
	if d.URL == "" {
		return ResolvedDocument{Name: d.Name, Failed: true, Content: "(no content or url)"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return ResolvedDocument{Name: d.Name, Failed: true, Content: "(request construction failed)"}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return ResolvedDocument{Name: d.Name, Failed: true, Content: "(fetch failed: " + err.Error() + ")"}
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(d.URL), ".pdf") {
		return ResolvedDocument{Name: d.Name, Content: "(PDF, referenced by URL: " + d.URL + ")"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResolvedDocument{Name: d.Name, Failed: true, Content: "(fetch returned status " + resp.Status + ")"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ResolvedDocument{Name: d.Name, Failed: true, Content: "(read failed: " + err.Error() + ")"}
	}

	text := string(body)
	if strings.Contains(contentType, "html") {
		text = stripHTML(text)
	}
	return ResolvedDocument{Name: d.Name, Content: truncate(text, documentMaxChars)}
}
