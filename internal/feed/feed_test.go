package feed

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

var fixedNow = time.Date(2025, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(func() time.Time { return fixedNow })
}

func TestNormalize_RSS(t *testing.T) {
	body, err := os.ReadFile("testdata/jobicy.xml")
	require.NoError(t, err)

	jobs, err := newTestNormalizer().Normalize(body)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	first := jobs[0]
	assert.Equal(t, "jobicy-1001", first.ExternalID)
	assert.Equal(t, "Senior Go Engineer", first.Title)
	assert.Equal(t, "<p>Build ingestion pipelines.</p>", first.Description)
	assert.Equal(t, "Engineering", first.Category)
	assert.Equal(t, "https://jobicy.com/jobs/1001-senior-go-engineer", first.URL)
	assert.Equal(t, time.Date(2025, 10, 6, 9, 30, 0, 0, time.UTC), first.PublishedAt)
	assert.Empty(t, first.Company)
	assert.Empty(t, first.Location)
	assert.JSONEq(t, `{
		"title": "Senior Go Engineer",
		"description": "<p>Build ingestion pipelines.</p>",
		"link": "https://jobicy.com/jobs/1001-senior-go-engineer",
		"guid": "jobicy-1001",
		"pubDate": "Mon, 06 Oct 2025 09:30:00 +0000",
		"category": ["Engineering", "Backend"]
	}`, string(first.Raw))

	second := jobs[1]
	assert.Equal(t, "https://jobicy.com/jobs/1002-product-designer", second.ExternalID, "guid falls back to link")
	assert.Equal(t, "Design & build.", second.Description, "description falls back to content")
	assert.Equal(t, fixedNow, second.PublishedAt, "unparseable pubDate defaults to now")

	third := jobs[2]
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("Data Analyst")), third.ExternalID)
	assert.Equal(t, fixedNow, third.PublishedAt)
}

func TestNormalize_RSSChannelLink(t *testing.T) {
	body := []byte(`<rss version="2.0"><channel><title>T</title><link>https://x</link>
		<item><title>One</title><link>https://x/1</link></item>
		<item><title>Two&nbsp;Jobs</title><link>https://x/2</link></item>
	</channel></rss>`)

	jobs, err := newTestNormalizer().Normalize(body)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "https://x/1", jobs[0].ExternalID)
	assert.Equal(t, "https://x/1", jobs[0].URL)
	assert.Equal(t, "Two\u00a0Jobs", jobs[1].Title)
	assert.Equal(t, "https://x/2", jobs[1].URL)
}

func TestNormalize_HTMLBody(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{
			name:   "html page with void elements",
			body:   `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Check</title></head><body>Wait<br></body></html>`,
			reason: "invalid XML",
		},
		{
			name:   "well-formed error page",
			body:   `<html><body>403 Forbidden</body></html>`,
			reason: "HTML document",
		},
		{
			name:   "unescaped ampersand",
			body:   `<rss><channel><item><title>R&D</title></item></channel></rss>`,
			reason: "invalid XML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestNormalizer().Normalize([]byte(tt.body))

			var formatErr *domain.FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, tt.reason, formatErr.Reason)
		})
	}
}

func TestNormalize_XMLWithoutRSSRoot(t *testing.T) {
	body := []byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry><title>x</title></entry></feed>`)

	jobs, err := newTestNormalizer().Normalize(body)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNormalize_MalformedXML(t *testing.T) {
	_, err := newTestNormalizer().Normalize([]byte(`<rss><channel><item><title>broken`))

	var formatErr *domain.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, "invalid XML", formatErr.Reason)
}

func TestNormalize_JSON(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, jobs []domain.CanonicalJob)
	}{
		{
			name: "top-level array with primary keys",
			body: `[{"id": "a-1", "title": "Backend Dev", "description": "Go", "url": "https://x/1",
				"publishedDate": "2025-09-01T10:00:00Z", "company": "Acme", "category": "Eng",
				"location": "Remote", "jobType": "full-time", "salary": "100k"}]`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				require.Len(t, jobs, 1)
				assert.Equal(t, domain.CanonicalJob{
					ExternalID:  "a-1",
					Title:       "Backend Dev",
					Description: "Go",
					Company:     "Acme",
					Location:    "Remote",
					Category:    "Eng",
					JobType:     "full-time",
					Salary:      "100k",
					URL:         "https://x/1",
					PublishedAt: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
					Raw:         jobs[0].Raw,
				}, jobs[0])
				assert.NotEmpty(t, jobs[0].Raw)
			},
		},
		{
			name: "jobs wrapper with alias keys",
			body: `{"jobs": [{"externalId": 42, "jobTitle": "Analyst", "summary": "Numbers",
				"link": "https://x/42", "pubDate": "Mon, 01 Sep 2025 10:00:00 GMT",
				"companyName": {"name": "Globex"}}]}`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				require.Len(t, jobs, 1)
				job := jobs[0]
				assert.Equal(t, "42", job.ExternalID)
				assert.Equal(t, "Analyst", job.Title)
				assert.Equal(t, "Numbers", job.Description)
				assert.Equal(t, "https://x/42", job.URL)
				assert.Equal(t, "Globex", job.Company)
				assert.Equal(t, time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC), job.PublishedAt)
			},
		},
		{
			name: "first non-empty alias wins",
			body: `[{"id": "", "guid": "g-7", "title": "Ops", "createdAt": 1756720800000}]`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				require.Len(t, jobs, 1)
				assert.Equal(t, "g-7", jobs[0].ExternalID)
				assert.Equal(t, time.UnixMilli(1756720800000).UTC(), jobs[0].PublishedAt)
			},
		},
		{
			name: "missing id falls back to base64 title",
			body: `[{"title": "QA Lead"}]`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				require.Len(t, jobs, 1)
				assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("QA Lead")), jobs[0].ExternalID)
				assert.Equal(t, fixedNow, jobs[0].PublishedAt)
			},
		},
		{
			name: "duplicates are passed through",
			body: `[{"id": "dup", "title": "A"}, {"id": "dup", "title": "B"}]`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				require.Len(t, jobs, 2)
				assert.Equal(t, "A", jobs[0].Title)
				assert.Equal(t, "B", jobs[1].Title)
			},
		},
		{
			name: "object without jobs array",
			body: `{"data": [{"id": "1"}]}`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				assert.Empty(t, jobs)
			},
		},
		{
			name: "scalar document",
			body: `"hello"`,
			check: func(t *testing.T, jobs []domain.CanonicalJob) {
				assert.Empty(t, jobs)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := newTestNormalizer().Normalize([]byte(tt.body))
			require.NoError(t, err)
			tt.check(t, jobs)
		})
	}
}

func TestNormalize_UnrecognizedBody(t *testing.T) {
	for _, body := range []string{"", "   ", "not json at all", `{"jobs": [}`} {
		_, err := newTestNormalizer().Normalize([]byte(body))

		var formatErr *domain.FormatError
		require.ErrorAs(t, err, &formatErr, "body %q", body)
		assert.Equal(t, "unrecognized body", formatErr.Reason)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
		ok    bool
	}{
		{input: "2025-09-01T10:00:00Z", want: want, ok: true},
		{input: "Mon, 01 Sep 2025 10:00:00 +0000", want: want, ok: true},
		{input: "Mon, 1 Sep 2025 10:00:00 +0000", want: want, ok: true},
		{input: "2025-09-01", want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{input: "1756720800000", want: want, ok: true},
		{input: "yesterday", ok: false},
		{input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestFetcher_Fetch(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs": [{"id": "1", "title": "One"}, {"id": "2", "title": "Two"}]}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(&Config{
		Timeout:   time.Second,
		UserAgent: "JobFeedImporter/1.0",
		Now:       func() time.Time { return fixedNow },
	})

	jobs, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, "JobFeedImporter/1.0", gotUserAgent)
}

func TestFetcher_Errors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := NewFetcher(&Config{Timeout: time.Second}).Fetch(context.Background(), server.URL)

		var fetchErr *domain.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	})

	t.Run("unreachable host", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		_, err := NewFetcher(&Config{Timeout: time.Second}).Fetch(context.Background(), url)

		var fetchErr *domain.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, url, fetchErr.URL)
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		_, err := NewFetcher(&Config{Timeout: 20 * time.Millisecond}).Fetch(context.Background(), server.URL)

		var fetchErr *domain.FetchError
		require.ErrorAs(t, err, &fetchErr)
	})

	t.Run("body too large", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id": "1", "title": "a very long title"}]`))
		}))
		defer server.Close()

		_, err := NewFetcher(&Config{Timeout: time.Second, MaxBodyBytes: 8}).Fetch(context.Background(), server.URL)

		var fetchErr *domain.FetchError
		require.ErrorAs(t, err, &fetchErr)
	})

	t.Run("unrecognized body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("plain text"))
		}))
		defer server.Close()

		_, err := NewFetcher(&Config{Timeout: time.Second}).Fetch(context.Background(), server.URL)

		var formatErr *domain.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.False(t, errors.As(err, new(*domain.FetchError)))
	})
}
