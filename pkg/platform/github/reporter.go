package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"go.uber.org/zap"
)

// Failure describes a failed required verification.
type Failure struct {
	Scenario string
	RunID    string
	StepGoal string
	URL      string
	Checks   []FailedCheck
}

// FailedCheck is one failing assertion.
type FailedCheck struct {
	Label  string
	Reason string
}

// Title is the issue title used for the failure and for de-duplication.
func (f Failure) Title() string {
	return fmt.Sprintf("[agbrowse] %s: %s", f.Scenario, f.StepGoal)
}

// Body renders the failure as markdown.
func (f Failure) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verification failed in scenario **%s**.\n\n", f.Scenario)
	fmt.Fprintf(&b, "- Step: %s\n", f.StepGoal)
	if f.URL != "" {
		fmt.Fprintf(&b, "- URL: %s\n", f.URL)
	}
	if f.RunID != "" {
		fmt.Fprintf(&b, "- Run: `%s` (replay with `agbrowse replay %s`)\n", f.RunID, f.RunID)
	}
	b.WriteString("\n| Check | Reason |\n|---|---|\n")
	for _, c := range f.Checks {
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(c.Label), escapeCell(c.Reason))
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// Reported identifies the issue a failure was filed under.
type Reported struct {
	Number  int
	HTMLURL string
	// Created is false when an open issue with the same title already
	// existed and a comment was added instead.
	Created bool
}

// Reporter files verification failures as GitHub issues.
type Reporter struct {
	client *Client
	owner  string
	name   string
	labels []string
	log    *zap.Logger
}

// NewReporter creates a reporter for repo ("owner/name").
func NewReporter(client *Client, repo string, labels []string, log *zap.Logger) (*Reporter, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{client: client, owner: owner, name: name, labels: labels, log: log}, nil
}

// Check verifies the token can see the repository.
func (r *Reporter) Check(ctx context.Context) error {
	if _, _, err := r.client.inner.Repositories.Get(ctx, r.owner, r.name); err != nil {
		return fmt.Errorf("github: repo %s/%s: %w", r.owner, r.name, err)
	}
	return nil
}

// Report files f. An open issue with the same title gets a comment rather
// than a duplicate.
func (r *Reporter) Report(ctx context.Context, f Failure) (Reported, error) {
	title := f.Title()
	body := f.Body()

	existing, err := r.findOpen(ctx, title)
	if err != nil {
		return Reported{}, err
	}
	if existing != nil {
		_, _, err := r.client.inner.Issues.CreateComment(ctx, r.owner, r.name, existing.GetNumber(), &gh.IssueComment{Body: &body})
		if err != nil {
			return Reported{}, fmt.Errorf("github: comment on #%d: %w", existing.GetNumber(), err)
		}
		r.log.Info("commented on existing issue", zap.Int("number", existing.GetNumber()))
		return Reported{Number: existing.GetNumber(), HTMLURL: existing.GetHTMLURL()}, nil
	}

	req := &gh.IssueRequest{Title: &title, Body: &body}
	if len(r.labels) > 0 {
		labels := append([]string(nil), r.labels...)
		req.Labels = &labels
	}
	issue, _, err := r.client.inner.Issues.Create(ctx, r.owner, r.name, req)
	if err != nil {
		return Reported{}, fmt.Errorf("github: create issue: %w", err)
	}
	r.log.Info("filed issue", zap.Int("number", issue.GetNumber()), zap.String("url", issue.GetHTMLURL()))
	return Reported{Number: issue.GetNumber(), HTMLURL: issue.GetHTMLURL(), Created: true}, nil
}

func (r *Reporter) findOpen(ctx context.Context, title string) (*gh.Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      r.labels,
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	issues, _, err := r.client.inner.Issues.ListByRepo(ctx, r.owner, r.name, opts)
	if err != nil {
		return nil, fmt.Errorf("github: list issues: %w", err)
	}
	for _, is := range issues {
		if is.IsPullRequest() {
			continue
		}
		if is.GetTitle() == title {
			return is, nil
		}
	}
	return nil, nil
}
