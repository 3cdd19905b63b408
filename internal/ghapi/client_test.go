package ghapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newStubClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	return &Client{
		newClient: func(context.Context, string) *github.Client {
			gh := github.NewClient(nil)
			gh.BaseURL = base
			return gh
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

func TestBuildDiff(t *testing.T) {
	files := []*github.CommitFile{
		{Filename: github.String("cmd/main.go"), Patch: github.String("@@ -1 +1 @@\n-old\n+new")},
		{Filename: github.String("assets/logo.png")},
		{Filename: github.String("README.md"), Patch: github.String("@@ -0,0 +1 @@\n+hello")},
	}

	diff := BuildDiff(files)
	want := "diff --git a/cmd/main.go b/cmd/main.go\n@@ -1 +1 @@\n-old\n+new\n" +
		"diff --git a/README.md b/README.md\n@@ -0,0 +1 @@\n+hello\n"
	assert.Equal(t, want, diff, "binary files without a patch are skipped")
}

func TestBuildDiff_Empty(t *testing.T) {
	assert.Empty(t, BuildDiff(nil))
}

func TestFetchPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/widgets/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "title": "Add retries", "body": "Retries transient failures."}`)
	})
	mux.HandleFunc("GET /repos/octo/widgets/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"filename": "up.go", "patch": "@@ -1 +1 @@\n+retry"}]`)
	})

	c := newStubClient(t, mux)
	pr, err := c.FetchPullRequest(context.Background(), "tok", "octo", "widgets", 42)
	require.NoError(t, err)

	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "Add retries", pr.Title)
	assert.Equal(t, "Retries transient failures.", pr.Body)
	assert.Equal(t, "diff --git a/up.go b/up.go\n@@ -1 +1 @@\n+retry\n", pr.Diff)
}

func TestFetchPullRequest_LimiterGatesRequests(t *testing.T) {
	hit := false
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(http.ResponseWriter, *http.Request) { hit = true })

	c := newStubClient(t, mux)
	// An exhausted limiter must fail the call before it reaches the API.
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 0)

	_, err := c.FetchPullRequest(context.Background(), "tok", "octo", "widgets", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.False(t, hit, "request must not reach the API")
}

func TestFetchPullRequest_RequiresToken(t *testing.T) {
	c := NewClient()
	_, err := c.FetchPullRequest(context.Background(), "", "octo", "widgets", 1)
	require.Error(t, err)
}

func TestCreatePullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 7, "html_url": "https://github.com/octo/widgets/pull/7"}`)
	})

	c := newStubClient(t, mux)
	u, err := c.CreatePullRequest(context.Background(), "tok", "octo", "widgets",
		"execd/issue-3-fix-crash", "main", "Fixes #3: crash on start", "Automated fix for issue #3.")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/octo/widgets/pull/7", u)
}

func TestCreatePullRequest_RequiresToken(t *testing.T) {
	c := NewClient()
	_, err := c.CreatePullRequest(context.Background(), "", "octo", "widgets", "h", "b", "t", "body")
	require.Error(t, err)
}
