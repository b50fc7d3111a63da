package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// fieldRule maps one canonical attribute to its candidate keys, in priority order
type fieldRule struct {
	keys []string
	set  func(job *domain.CanonicalJob, value string)
}

var jsonFieldTable = []fieldRule{
	{keys: []string{"id", "externalId", "guid"}, set: func(j *domain.CanonicalJob, v string) { j.ExternalID = v }},
	{keys: []string{"title", "jobTitle"}, set: func(j *domain.CanonicalJob, v string) { j.Title = v }},
	{keys: []string{"description", "summary"}, set: func(j *domain.CanonicalJob, v string) { j.Description = v }},
	{keys: []string{"url", "link"}, set: func(j *domain.CanonicalJob, v string) { j.URL = v }},
	{keys: []string{"company", "companyName"}, set: func(j *domain.CanonicalJob, v string) { j.Company = v }},
	{keys: []string{"category"}, set: func(j *domain.CanonicalJob, v string) { j.Category = v }},
	{keys: []string{"location"}, set: func(j *domain.CanonicalJob, v string) { j.Location = v }},
	{keys: []string{"jobType"}, set: func(j *domain.CanonicalJob, v string) { j.JobType = v }},
	{keys: []string{"salary"}, set: func(j *domain.CanonicalJob, v string) { j.Salary = v }},
}

var publishedDateKeys = []string{"publishedDate", "pubDate", "createdAt"}

// normalizeJSON accepts a top-level array or an object with a "jobs" array.
// Any other valid JSON yields an empty sequence; invalid JSON reports !ok.
func (n *Normalizer) normalizeJSON(body []byte) ([]domain.CanonicalJob, bool) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var doc interface{}
	if err := decoder.Decode(&doc); err != nil {
		return nil, false
	}
	if decoder.More() {
		return nil, false
	}

	var entries []json.RawMessage
	switch v := doc.(type) {
	case []interface{}:
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, false
		}
	case map[string]interface{}:
		if _, ok := v["jobs"].([]interface{}); !ok {
			return []domain.CanonicalJob{}, true
		}
		var wrapper struct {
			Jobs []json.RawMessage `json:"jobs"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, false
		}
		entries = wrapper.Jobs
	default:
		return []domain.CanonicalJob{}, true
	}

	jobs := make([]domain.CanonicalJob, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, n.fromJSONEntry(entry))
	}
	return jobs, true
}

func (n *Normalizer) fromJSONEntry(entry json.RawMessage) domain.CanonicalJob {
	job := domain.CanonicalJob{Raw: append(json.RawMessage(nil), entry...)}

	decoder := json.NewDecoder(bytes.NewReader(entry))
	decoder.UseNumber()

	var obj map[string]interface{}
	if err := decoder.Decode(&obj); err != nil {
		// Not an object: nothing to extract, validation rejects it downstream
		job.PublishedAt = n.now()
		return job
	}

	for _, rule := range jsonFieldTable {
		if v, ok := firstPresent(obj, rule.keys); ok {
			rule.set(&job, stringValue(v))
		}
	}

	job.ExternalID = fallbackID(job.ExternalID, job.Title)

	job.PublishedAt = n.now()
	if v, ok := firstPresent(obj, publishedDateKeys); ok {
		if ts, ok := dateValue(v); ok {
			job.PublishedAt = ts
		}
	}

	return job
}

// firstPresent returns the value of the first key holding a non-empty value
func firstPresent(obj map[string]interface{}, keys []string) (interface{}, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	default:
		return stringValue(v) == ""
	}
}

// stringValue renders scalars as strings. Objects contribute their "name" or
// "display_name" member and arrays their first element.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		if len(t) == 0 {
			return ""
		}
		return stringValue(t[0])
	case map[string]interface{}:
		for _, key := range []string{"name", "display_name", "_"} {
			if s, ok := t[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	default:
		return ""
	}
}

func dateValue(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return parseDate(strings.TrimSpace(t))
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	default:
		return time.Time{}, false
	}
}
