// Package server exposes the article, cache and user data operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/feedstack/internal/articles"
	"github.com/l0p7/feedstack/internal/cache"
	"github.com/l0p7/feedstack/internal/newsapi"
	"github.com/l0p7/feedstack/internal/userdata"
)

const maxBodyBytes = 1 << 20

// Articles serves cached or freshly fetched article lists.
type Articles interface {
	Headlines(ctx context.Context, q articles.HeadlinesQuery) (articles.Result, error)
	Search(ctx context.Context, q articles.SearchQuery) (articles.Result, error)
}

// CacheAdmin inspects and sweeps the article cache.
type CacheAdmin interface {
	Stats(ctx context.Context) cache.Stats
	ClearAll(ctx context.Context) int
	ClearExpired(ctx context.Context) int
	Cleanup(ctx context.Context) int
}

// UserData persists the reader's preferences, bookmarks and settings.
type UserData interface {
	Preferences(ctx context.Context) (userdata.Preferences, error)
	SavePreferences(ctx context.Context, prefs userdata.Preferences) error
	Bookmarks(ctx context.Context) ([]userdata.Bookmark, error)
	AddBookmark(ctx context.Context, b userdata.Bookmark) (bool, error)
	RemoveBookmark(ctx context.Context, url string) error
	IsBookmarked(ctx context.Context, url string) (bool, error)
	ClearBookmarks(ctx context.Context) error
	Settings(ctx context.Context) (userdata.Settings, error)
	UpdateSettings(ctx context.Context, u userdata.SettingsUpdate) (userdata.Settings, error)
	OnboardingCompleted(ctx context.Context) (bool, error)
	SetOnboardingCompleted(ctx context.Context, completed bool) error
	Reset(ctx context.Context) error
}

type RouterOptions struct {
	Articles          Articles
	Cache             CacheAdmin
	UserData          UserData
	Metrics           http.Handler
	Logger            *slog.Logger
	CorrelationHeader string
	Now               func() time.Time
}

type router struct {
	articles Articles
	cache    CacheAdmin
	userdata UserData
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter builds the versioned API mux wrapped in request-ID middleware.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.Articles == nil || opts.Cache == nil || opts.UserData == nil {
		return nil, errors.New("server: articles, cache and user data required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rt := &router{
		articles: opts.Articles,
		cache:    opts.Cache,
		userdata: opts.UserData,
		logger:   logger.With(slog.String("component", "http")),
		now:      now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.health)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("GET /v1/headlines", rt.headlines)
	mux.HandleFunc("GET /v1/search", rt.search)

	mux.HandleFunc("GET /v1/cache", rt.cacheStats)
	mux.HandleFunc("DELETE /v1/cache", rt.cacheClearAll)
	mux.HandleFunc("POST /v1/cache/expired", rt.cacheClearExpired)
	mux.HandleFunc("POST /v1/cache/cleanup", rt.cacheCleanup)

	mux.HandleFunc("GET /v1/preferences", rt.getPreferences)
	mux.HandleFunc("PUT /v1/preferences", rt.putPreferences)
	mux.HandleFunc("GET /v1/bookmarks", rt.getBookmarks)
	mux.HandleFunc("POST /v1/bookmarks", rt.postBookmark)
	mux.HandleFunc("DELETE /v1/bookmarks", rt.deleteBookmarks)
	mux.HandleFunc("GET /v1/settings", rt.getSettings)
	mux.HandleFunc("PUT /v1/settings", rt.putSettings)
	mux.HandleFunc("GET /v1/settings/categories", rt.notificationCategories)
	mux.HandleFunc("GET /v1/onboarding", rt.getOnboarding)
	mux.HandleFunc("PUT /v1/onboarding", rt.putOnboarding)
	mux.HandleFunc("POST /v1/reset", rt.reset)

	return withRequestID(opts.CorrelationHeader, rt.logger, mux), nil
}

type articlesResponse struct {
	Articles     []newsapi.Article `json:"articles"`
	TotalResults int               `json:"totalResults"`
	FromCache    bool              `json:"fromCache"`
	Stale        bool              `json:"stale,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	UpdatedLabel string            `json:"updatedLabel"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

type onboardingDocument struct {
	Completed bool `json:"completed"`
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *router) headlines(w http.ResponseWriter, r *http.Request) {
	refresh, err := parseRefresh(r)
	if err != nil {
		rt.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	res, err := rt.articles.Headlines(r.Context(), articles.HeadlinesQuery{
		Country:  q.Get("country"),
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Refresh:  refresh,
	})
	if err != nil {
		rt.writeArticlesError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, rt.articlesResponse(res))
}

func (rt *router) search(w http.ResponseWriter, r *http.Request) {
	refresh, err := parseRefresh(r)
	if err != nil {
		rt.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	res, err := rt.articles.Search(r.Context(), articles.SearchQuery{
		Query:    q.Get("q"),
		Language: q.Get("language"),
		SortBy:   q.Get("sortBy"),
		Refresh:  refresh,
	})
	if err != nil {
		rt.writeArticlesError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, rt.articlesResponse(res))
}

func (rt *router) articlesResponse(res articles.Result) articlesResponse {
	list := res.Articles
	if list == nil {
		list = []newsapi.Article{}
	}
	return articlesResponse{
		Articles:     list,
		TotalResults: res.TotalResults,
		FromCache:    res.FromCache,
		Stale:        res.Stale,
		UpdatedAt:    res.UpdatedAt.UTC(),
		UpdatedLabel: articles.FormatLastUpdated(rt.now(), res.UpdatedAt),
	}
}

func (rt *router) cacheStats(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, rt.cache.Stats(r.Context()))
}

func (rt *router) cacheClearAll(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, removedResponse{Removed: rt.cache.ClearAll(r.Context())})
}

func (rt *router) cacheClearExpired(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, removedResponse{Removed: rt.cache.ClearExpired(r.Context())})
}

func (rt *router) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, removedResponse{Removed: rt.cache.Cleanup(r.Context())})
}

func (rt *router) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := rt.userdata.Preferences(r.Context())
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, prefs)
}

func (rt *router) putPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs userdata.Preferences
	if !rt.decode(w, r, &prefs) {
		return
	}
	if err := validatePreferences(prefs); err != nil {
		rt.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := rt.userdata.SavePreferences(r.Context(), prefs); err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.getPreferences(w, r)
}

func validatePreferences(p userdata.Preferences) error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"country", p.Country, newsapi.Countries},
		{"category", p.Category, newsapi.Categories},
		{"language", p.Language, newsapi.Languages},
		{"sortBy", p.SortBy, newsapi.SortOrders},
	}
	for _, c := range checks {
		if c.value != "" && !slices.Contains(c.allowed, c.value) {
			return fmt.Errorf("unsupported %s %q", c.name, c.value)
		}
	}
	return nil
}

// getBookmarks lists bookmarks, or answers a membership check when ?url= is given.
func (rt *router) getBookmarks(w http.ResponseWriter, r *http.Request) {
	if url := r.URL.Query().Get("url"); url != "" {
		ok, err := rt.userdata.IsBookmarked(r.Context(), url)
		if err != nil {
			rt.writeUserDataError(w, r, err)
			return
		}
		rt.writeJSON(w, r, http.StatusOK, map[string]bool{"bookmarked": ok})
		return
	}
	bookmarks, err := rt.userdata.Bookmarks(r.Context())
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	if bookmarks == nil {
		bookmarks = []userdata.Bookmark{}
	}
	rt.writeJSON(w, r, http.StatusOK, bookmarks)
}

func (rt *router) postBookmark(w http.ResponseWriter, r *http.Request) {
	var b userdata.Bookmark
	if !rt.decode(w, r, &b) {
		return
	}
	added, err := rt.userdata.AddBookmark(r.Context(), b)
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	rt.writeJSON(w, r, status, map[string]bool{"added": added})
}

// deleteBookmarks removes one bookmark by ?url= or clears them all without it.
func (rt *router) deleteBookmarks(w http.ResponseWriter, r *http.Request) {
	var err error
	if url := r.URL.Query().Get("url"); url != "" {
		err = rt.userdata.RemoveBookmark(r.Context(), url)
	} else {
		err = rt.userdata.ClearBookmarks(r.Context())
	}
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := rt.userdata.Settings(r.Context())
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, settings)
}

func (rt *router) putSettings(w http.ResponseWriter, r *http.Request) {
	var update userdata.SettingsUpdate
	if !rt.decode(w, r, &update) {
		return
	}
	settings, err := rt.userdata.UpdateSettings(r.Context(), update)
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, settings)
}

func (rt *router) notificationCategories(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, r, http.StatusOK, userdata.NotificationCategories)
}

func (rt *router) getOnboarding(w http.ResponseWriter, r *http.Request) {
	completed, err := rt.userdata.OnboardingCompleted(r.Context())
	if err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, onboardingDocument{Completed: completed})
}

func (rt *router) putOnboarding(w http.ResponseWriter, r *http.Request) {
	var doc onboardingDocument
	if !rt.decode(w, r, &doc) {
		return
	}
	if err := rt.userdata.SetOnboardingCompleted(r.Context(), doc.Completed); err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, doc)
}

func (rt *router) reset(w http.ResponseWriter, r *http.Request) {
	if err := rt.userdata.Reset(r.Context()); err != nil {
		rt.writeUserDataError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRefresh(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("refresh"))
	if raw == "" {
		return false, nil
	}
	refresh, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("refresh must be a boolean: %q", raw)
	}
	return refresh, nil
}

func (rt *router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		rt.writeError(w, r, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func (rt *router) writeArticlesError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, newsapi.ErrInvalidRequest) {
		rt.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rt.logger.Warn("article fetch failed", slog.String("correlation_id", RequestID(r.Context())), slog.Any("error", err))
	message := "upstream request failed"
	var apiErr *newsapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	} else if errors.Is(err, newsapi.ErrMissingAPIKey) {
		message = "news API key not configured"
	}
	rt.writeError(w, r, http.StatusBadGateway, message)
}

func (rt *router) writeUserDataError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, userdata.ErrInvalid) {
		rt.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rt.logger.Error("user data operation failed", slog.String("correlation_id", RequestID(r.Context())), slog.Any("error", err))
	rt.writeError(w, r, http.StatusInternalServerError, "storage failure")
}

func (rt *router) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	rt.writeJSON(w, r, status, map[string]string{"error": message})
}

func (rt *router) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("response encode failed", slog.String("correlation_id", RequestID(r.Context())), slog.Any("error", err))
	}
}
