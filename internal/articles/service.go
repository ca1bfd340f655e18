// Package articles serves article lists through the TTL cache, falling back to
// the news API on a miss or an explicit refresh.
package articles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/feedstack/internal/cache"
	"github.com/l0p7/feedstack/internal/newsapi"
	"github.com/l0p7/feedstack/internal/userdata"
)

// Request defaults used when neither the caller nor the saved preferences choose.
const (
	DefaultCountry  = "us"
	DefaultCategory = "technology"
	DefaultLanguage = "en"
	DefaultSortBy   = "publishedAt"
)

// Fetcher is the upstream news source.
type Fetcher interface {
	TopHeadlines(ctx context.Context, req newsapi.HeadlinesRequest) (*newsapi.Response, error)
	Everything(ctx context.Context, req newsapi.EverythingRequest) (*newsapi.Response, error)
}

// PreferenceStore reads and records the reader's request defaults.
type PreferenceStore interface {
	Preferences(ctx context.Context) (userdata.Preferences, error)
	SetDefaultCountry(ctx context.Context, country string) error
	SetDefaultCategory(ctx context.Context, category string) error
	SetDefaultLanguage(ctx context.Context, language string) error
	SetDefaultSortBy(ctx context.Context, sortBy string) error
}

// TTLPolicy decides how long fetched lists stay cached.
type TTLPolicy struct {
	Default            time.Duration
	Max                time.Duration
	FollowCacheControl bool
}

type Options struct {
	Cache       *Cache
	Fetcher     Fetcher
	Preferences PreferenceStore
	Logger      *slog.Logger
	Now         func() time.Time
	TTL         TTLPolicy
}

type Service struct {
	cache   *Cache
	fetcher Fetcher
	prefs   PreferenceStore
	logger  *slog.Logger
	now     func() time.Time

	policyMu sync.RWMutex
	policy   TTLPolicy
}

// HeadlinesQuery selects top headlines. Empty fields fall back to preferences
// and then to the package defaults.
type HeadlinesQuery struct {
	Country  string
	Category string
	Query    string
	Refresh  bool
}

// SearchQuery selects everything results. Query is required.
type SearchQuery struct {
	Query    string
	Language string
	SortBy   string
	Refresh  bool
}

// Result is one served article list. Stale marks a cached list served because
// a refresh failed upstream.
type Result struct {
	Articles     []newsapi.Article
	TotalResults int
	FromCache    bool
	Stale        bool
	UpdatedAt    time.Time
}

func NewService(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, errors.New("articles: cache required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("articles: fetcher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		cache:   opts.Cache,
		fetcher: opts.Fetcher,
		prefs:   opts.Preferences,
		logger:  logger.With(slog.String("component", "articles")),
		now:     now,
	}
	s.SetTTLPolicy(opts.TTL)
	return s, nil
}

// SetTTLPolicy swaps the caching policy for subsequent fetches.
func (s *Service) SetTTLPolicy(policy TTLPolicy) {
	if policy.Default <= 0 {
		policy.Default = cache.DefaultDuration
	}
	s.policyMu.Lock()
	s.policy = policy
	s.policyMu.Unlock()
}

func (s *Service) ttlFor(cacheControl string) time.Duration {
	s.policyMu.RLock()
	policy := s.policy
	s.policyMu.RUnlock()

	directive := cache.Directive{}
	if policy.FollowCacheControl {
		directive = cache.ParseCacheControl(cacheControl)
	}
	return cache.EffectiveTTL(directive, policy.Default, policy.Max)
}

// Headlines serves top headlines, from cache when a live entry exists.
func (s *Service) Headlines(ctx context.Context, q HeadlinesQuery) (Result, error) {
	prefs := s.loadPreferences(ctx)
	country := firstNonEmpty(q.Country, prefs.Country, DefaultCountry)
	category := firstNonEmpty(q.Category, prefs.Category, DefaultCategory)
	query := strings.TrimSpace(q.Query)

	req := newsapi.HeadlinesRequest{Country: country, Category: category, Query: query}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	entry, cached := s.cache.TopHeadlinesEntry(ctx, country, category, query)
	cached = cached && len(entry.Data.Articles) > 0
	if cached && !q.Refresh {
		return cachedResult(entry), nil
	}

	resp, err := s.fetcher.TopHeadlines(ctx, req)
	if err != nil {
		err = fmt.Errorf("articles: fetch headlines: %w", err)
		if cached {
			return s.staleResult(entry, err), nil
		}
		return Result{}, err
	}
	if ttl := s.ttlFor(resp.CacheControl); ttl > 0 {
		s.cache.CacheTopHeadlines(ctx, country, category, query, pageOf(resp), ttl)
	}
	if s.prefs != nil {
		s.remember("country", s.prefs.SetDefaultCountry(ctx, country))
		s.remember("category", s.prefs.SetDefaultCategory(ctx, category))
	}
	return s.freshResult(resp), nil
}

// Search serves everything results, from cache when a live entry exists.
func (s *Service) Search(ctx context.Context, q SearchQuery) (Result, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return Result{}, fmt.Errorf("%w: search query required", newsapi.ErrInvalidRequest)
	}
	prefs := s.loadPreferences(ctx)
	language := firstNonEmpty(q.Language, prefs.Language, DefaultLanguage)
	sortBy := firstNonEmpty(q.SortBy, prefs.SortBy, DefaultSortBy)

	req := newsapi.EverythingRequest{Query: query, Language: language, SortBy: sortBy}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	entry, cached := s.cache.SearchEntry(ctx, query, language, sortBy)
	cached = cached && len(entry.Data.Articles) > 0
	if cached && !q.Refresh {
		return cachedResult(entry), nil
	}

	resp, err := s.fetcher.Everything(ctx, req)
	if err != nil {
		err = fmt.Errorf("articles: search: %w", err)
		if cached {
			return s.staleResult(entry, err), nil
		}
		return Result{}, err
	}
	if ttl := s.ttlFor(resp.CacheControl); ttl > 0 {
		s.cache.CacheSearch(ctx, query, language, sortBy, pageOf(resp), ttl)
	}
	if s.prefs != nil {
		s.remember("language", s.prefs.SetDefaultLanguage(ctx, language))
		s.remember("sortBy", s.prefs.SetDefaultSortBy(ctx, sortBy))
	}
	return s.freshResult(resp), nil
}

func (s *Service) loadPreferences(ctx context.Context) userdata.Preferences {
	if s.prefs == nil {
		return userdata.Preferences{}
	}
	prefs, err := s.prefs.Preferences(ctx)
	if err != nil {
		s.logger.Warn("preferences unavailable, using defaults", slog.Any("error", err))
		return userdata.Preferences{}
	}
	return prefs
}

func (s *Service) remember(field string, err error) {
	if err != nil {
		s.logger.Warn("preference save failed", slog.String("field", field), slog.Any("error", err))
	}
}

func (s *Service) freshResult(resp *newsapi.Response) Result {
	articles := resp.Articles
	if articles == nil {
		articles = []newsapi.Article{}
	}
	return Result{
		Articles:     articles,
		TotalResults: resp.TotalResults,
		FromCache:    false,
		UpdatedAt:    s.now(),
	}
}

func pageOf(resp *newsapi.Response) Page {
	return Page{Articles: resp.Articles, TotalResults: resp.TotalResults}
}

func cachedResult(entry cache.Entry[Page]) Result {
	return Result{
		Articles:     entry.Data.Articles,
		TotalResults: entry.Data.TotalResults,
		FromCache:    true,
		UpdatedAt:    entry.StoredAt(),
	}
}

// staleResult keeps a live cached list on screen when a refresh fails.
func (s *Service) staleResult(entry cache.Entry[Page], err error) Result {
	s.logger.Warn("refresh failed, serving cached articles",
		slog.Time("cached_at", entry.StoredAt()),
		slog.Any("error", err),
	)
	res := cachedResult(entry)
	res.Stale = true
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// FormatLastUpdated renders the age of ts relative to now for list headers.
func FormatLastUpdated(now, ts time.Time) string {
	seconds := int64(now.Sub(ts) / time.Second)
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}
