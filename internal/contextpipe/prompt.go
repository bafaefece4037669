package contextpipe

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProjectInput is the subset of a BacklogProject needed to build an
// enrichment prompt.
type ProjectInput struct {
	Title       string
	Description string
	GithubLink  string
	Documents   []BoardDocument
}

const promptInstruction = `Du bist ein erfahrener Product Manager und Solutions Architect. Analysiere das folgende Projekt und erstelle eine technische Spezifikation sowie eine Liste konkreter Umsetzungsaufgaben. Antworte ausschließlich mit einem einzelnen JSON-Objekt der Form {"spec": "<markdown>", "tasks": [{"title": "...", "details": "..."}]} ohne Code-Fences und ohne weiteren Text davor oder danach.`

// Build runs the GitHub fetch and document resolution in parallel and
// composes the final bounded prompt. Either enrichment source may be
// absent (no githubLink, no documents) without failing the build.
func Build(ctx context.Context, gh *GithubClient, p ProjectInput) string {
	var (
		wg      sync.WaitGroup
		repo    *RepoSummary
		docs    []ResolvedDocument
	)

	if ref, ok := ParseGithubLink(p.GithubLink); ok && gh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if summary, err := gh.FetchRepoSummary(ctx, ref); err == nil {
				repo = summary
			}
		}()
	}

	if len(p.Documents) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs = ResolveDocuments(ctx, p.Documents)
		}()
	}

	wg.Wait()

	var b strings.Builder
	b.WriteString(promptInstruction)
	b.WriteString("\n\n## Projekt\n")
	fmt.Fprintf(&b, "Titel: %s\n", p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "Beschreibung: %s\n", p.Description)
	}
	if p.GithubLink != "" {
		fmt.Fprintf(&b, "Repository: %s\n", p.GithubLink)
	}

	b.WriteString("\n## Anreicherung\n")
	if repo != nil {
		writeRepoSummary(&b, repo)
	} else if p.GithubLink != "" {
		b.WriteString("(Repository-Inhalte konnten nicht geladen werden.)\n")
	}
	if len(docs) > 0 {
		writeDocuments(&b, docs)
	}

	return b.String()
}

func writeRepoSummary(b *strings.Builder, repo *RepoSummary) {
	fmt.Fprintf(b, "### Repository (Branch: %s)\n", repo.Branch)
	if repo.README != "" {
		fmt.Fprintf(b, "README:\n%s\n\n", repo.README)
	}
	if len(repo.FileTree) > 0 {
		b.WriteString("Dateistruktur:\n")
		for _, p := range repo.FileTree {
			fmt.Fprintf(b, "- %s\n", p)
		}
		if repo.FileTreeMore > 0 {
			fmt.Fprintf(b, "- … und %d weitere Dateien\n", repo.FileTreeMore)
		}
	}
	if repo.Manifest != nil {
		fmt.Fprintf(b, "Manifest: %s@%s\n", repo.Manifest.Name, repo.Manifest.Version)
		if len(repo.Manifest.Dependencies) > 0 {
			fmt.Fprintf(b, "Dependencies: %s\n", strings.Join(repo.Manifest.Dependencies, ", "))
		}
		if len(repo.Manifest.DevDependencies) > 0 {
			fmt.Fprintf(b, "DevDependencies: %s\n", strings.Join(repo.Manifest.DevDependencies, ", "))
		}
	}
}

func writeDocuments(b *strings.Builder, docs []ResolvedDocument) {
	b.WriteString("### Anhänge\n")
	for _, d := range docs {
		fmt.Fprintf(b, "#### %s\n%s\n\n", d.Name, d.Content)
	}
}
