package newsapi

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidRequest marks parameters the API would reject.
var ErrInvalidRequest = errors.New("newsapi: invalid request")

// Countries lists the ISO codes accepted by top-headlines.
var Countries = []string{
	"ae", "ar", "at", "au", "be", "bg", "br", "ca", "ch", "cn", "co", "cu", "cz", "de", "eg", "fr",
	"gb", "gr", "hk", "hu", "id", "ie", "il", "in", "it", "jp", "kr", "lt", "lv", "ma", "mx", "my",
	"ng", "nl", "no", "nz", "ph", "pl", "pt", "ro", "rs", "ru", "sa", "se", "sg", "si", "sk", "th",
	"tr", "tw", "ua", "us", "ve", "za",
}

// Categories lists the top-headlines categories.
var Categories = []string{"business", "entertainment", "general", "health", "science", "sports", "technology"}

// SortOrders lists the orderings accepted by everything.
var SortOrders = []string{"relevancy", "popularity", "publishedAt"}

// Languages lists the two-letter codes accepted by everything.
var Languages = []string{"ar", "de", "en", "es", "fr", "he", "it", "nl", "no", "pt", "ru", "sv", "ud", "zh"}

// Validate checks the enumerated fields of a headlines request.
func (r HeadlinesRequest) Validate() error {
	if r.Country != "" && !slices.Contains(Countries, r.Country) {
		return fmt.Errorf("%w: unsupported country %q", ErrInvalidRequest, r.Country)
	}
	if r.Category != "" && !slices.Contains(Categories, r.Category) {
		return fmt.Errorf("%w: unsupported category %q", ErrInvalidRequest, r.Category)
	}
	if r.PageSize < 0 || r.PageSize > 100 {
		return fmt.Errorf("%w: pageSize must be between 1 and 100", ErrInvalidRequest)
	}
	if r.Page < 0 {
		return fmt.Errorf("%w: page must be positive", ErrInvalidRequest)
	}
	return nil
}

// Validate checks the enumerated fields of an everything request.
func (r EverythingRequest) Validate() error {
	if r.Query == "" && r.Domains == "" {
		return fmt.Errorf("%w: query or domains required", ErrInvalidRequest)
	}
	if r.Language != "" && !slices.Contains(Languages, r.Language) {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, r.Language)
	}
	if r.SortBy != "" && !slices.Contains(SortOrders, r.SortBy) {
		return fmt.Errorf("%w: unsupported sortBy %q", ErrInvalidRequest, r.SortBy)
	}
	if r.Page < 0 {
		return fmt.Errorf("%w: page must be positive", ErrInvalidRequest)
	}
	return nil
}
