package articles

import (
	"context"
	"time"

	"github.com/l0p7/feedstack/internal/cache"
	"github.com/l0p7/feedstack/internal/newsapi"
)

const (
	headlinesPrefix = "top_headlines"
	searchPrefix    = "search"
)

// Page is one cached article list together with the upstream result count.
type Page struct {
	Articles     []newsapi.Article `json:"articles"`
	TotalResults int               `json:"totalResults"`
}

// Cache stores article pages for the two request shapes.
type Cache struct {
	engine *cache.Engine
}

// NewCache wraps engine with the article key scheme.
func NewCache(engine *cache.Engine) *Cache {
	return &Cache{engine: engine}
}

// HeadlinesKey derives the cache key for a top-headlines request.
func HeadlinesKey(country, category, query string) string {
	return cache.GenerateKey(headlinesPrefix, map[string]string{
		"country":  country,
		"category": category,
		"query":    query,
	})
}

// SearchKey derives the cache key for an everything request.
func SearchKey(query, language, sortBy string) string {
	return cache.GenerateKey(searchPrefix, map[string]string{
		"query":    query,
		"language": language,
		"sortBy":   sortBy,
	})
}

// CacheTopHeadlines stores page for ttl. A non-positive ttl uses the engine default.
func (c *Cache) CacheTopHeadlines(ctx context.Context, country, category, query string, page Page, ttl time.Duration) {
	cache.Set(ctx, c.engine, HeadlinesKey(country, category, query), page, ttl)
}

// TopHeadlines returns the cached headline articles when a live entry exists.
func (c *Cache) TopHeadlines(ctx context.Context, country, category, query string) ([]newsapi.Article, bool) {
	page, ok := cache.Get[Page](ctx, c.engine, HeadlinesKey(country, category, query))
	return page.Articles, ok
}

// TopHeadlinesEntry also returns the write timestamp for "last updated" labels.
func (c *Cache) TopHeadlinesEntry(ctx context.Context, country, category, query string) (cache.Entry[Page], bool) {
	return cache.Lookup[Page](ctx, c.engine, HeadlinesKey(country, category, query))
}

// CacheSearch stores page for ttl. A non-positive ttl uses the engine default.
func (c *Cache) CacheSearch(ctx context.Context, query, language, sortBy string, page Page, ttl time.Duration) {
	cache.Set(ctx, c.engine, SearchKey(query, language, sortBy), page, ttl)
}

// Search returns the cached search articles when a live entry exists.
func (c *Cache) Search(ctx context.Context, query, language, sortBy string) ([]newsapi.Article, bool) {
	page, ok := cache.Get[Page](ctx, c.engine, SearchKey(query, language, sortBy))
	return page.Articles, ok
}

// SearchEntry is the search counterpart of TopHeadlinesEntry.
func (c *Cache) SearchEntry(ctx context.Context, query, language, sortBy string) (cache.Entry[Page], bool) {
	return cache.Lookup[Page](ctx, c.engine, SearchKey(query, language, sortBy))
}
