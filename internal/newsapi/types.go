package newsapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SourceID is the publisher identifier. The API sends it as a string, a
// number or null; all three decode into the string form.
type SourceID string

func (id *SourceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("newsapi: source id: %w", err)
	}
	*id = SourceID(n.String())
	return nil
}

type Source struct {
	ID   SourceID `json:"id"`
	Name string   `json:"name"`
}

// Article mirrors one entry of the articles array. Nullable fields decode to "".
type Article struct {
	Source      Source `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Response is the list envelope returned by both endpoints.
type Response struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`

	// CacheControl carries the upstream Cache-Control header, if any.
	CacheControl string `json:"-"`
}

// HeadlinesRequest selects /v2/top-headlines results. Zero fields are omitted.
type HeadlinesRequest struct {
	Country  string
	Category string
	Query    string
	PageSize int
	Page     int
}

// EverythingRequest selects /v2/everything results. Zero fields are omitted.
type EverythingRequest struct {
	Query          string
	Domains        string
	ExcludeDomains string
	From           string
	To             string
	Language       string
	SortBy         string
	Page           int
}

// APIError is the decoded error body of a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Message == "" {
		return "newsapi: unexpected status " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("newsapi: %d %s: %s", e.StatusCode, e.Code, e.Message)
}
