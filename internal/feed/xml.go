package feed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

type rssDocument struct {
	XMLName xml.Name
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title" json:"title,omitempty"`
	Description string   `xml:"description" json:"description,omitempty"`
	Content     string   `xml:"content" json:"content,omitempty"`
	Link        string   `xml:"link" json:"link,omitempty"`
	GUID        string   `xml:"guid" json:"guid,omitempty"`
	PubDate     string   `xml:"pubDate" json:"pubDate,omitempty"`
	Categories  []string `xml:"category" json:"category,omitempty"`
}

// normalizeXML handles RSS 2.0 documents. Well-formed XML with another root
// element (Atom, sitemap, ...) yields an empty sequence; HTML pages and
// malformed markup are format errors.
func (n *Normalizer) normalizeXML(body []byte) ([]domain.CanonicalJob, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel

	var doc rssDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, &domain.FormatError{Reason: "invalid XML", Err: err}
	}

	if strings.EqualFold(doc.XMLName.Local, "html") {
		return nil, &domain.FormatError{Reason: "HTML document"}
	}
	if !strings.EqualFold(doc.XMLName.Local, "rss") {
		return []domain.CanonicalJob{}, nil
	}

	jobs := make([]domain.CanonicalJob, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		jobs = append(jobs, n.fromRSSItem(item))
	}
	return jobs, nil
}

func (n *Normalizer) fromRSSItem(item rssItem) domain.CanonicalJob {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)

	description := strings.TrimSpace(item.Description)
	if description == "" {
		description = strings.TrimSpace(item.Content)
	}

	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = link
	}

	category := ""
	if len(item.Categories) > 0 {
		category = strings.TrimSpace(item.Categories[0])
	}

	publishedAt, ok := parseDate(strings.TrimSpace(item.PubDate))
	if !ok {
		publishedAt = n.now()
	}

	raw, _ := json.Marshal(item)

	return domain.CanonicalJob{
		ExternalID:  fallbackID(guid, title),
		Title:       title,
		Description: description,
		Category:    category,
		URL:         link,
		PublishedAt: publishedAt,
		Raw:         raw,
	}
}

// fallbackID returns id, or base64(title) when the feed provides no identifier
func fallbackID(id, title string) string {
	if id != "" {
		return id
	}
	return base64.StdEncoding.EncodeToString([]byte(title))
}
