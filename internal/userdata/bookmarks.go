package userdata

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/l0p7/feedstack/internal/store"
)

type BookmarkSource struct {
	Name string `json:"name"`
}

// Bookmark is a saved article. URL identifies it.
type Bookmark struct {
	URL          string          `json:"url"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	URLToImage   string          `json:"urlToImage,omitempty"`
	Source       *BookmarkSource `json:"source,omitempty"`
	Author       string          `json:"author,omitempty"`
	PublishedAt  string          `json:"publishedAt"`
	BookmarkedAt string          `json:"bookmarkedAt"`
}

// Bookmarks lists saved articles in insertion order.
func (s *Store) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	bookmarks := make([]Bookmark, 0)
	if _, err := s.getJSON(ctx, store.KeyBookmarks, &bookmarks); err != nil {
		return nil, err
	}
	if bookmarks == nil {
		bookmarks = make([]Bookmark, 0)
	}
	return bookmarks, nil
}

// AddBookmark appends b unless its URL is already saved. It reports whether
// the bookmark was added.
func (s *Store) AddBookmark(ctx context.Context, b Bookmark) (bool, error) {
	b.URL = strings.TrimSpace(b.URL)
	if b.URL == "" {
		return false, fmt.Errorf("%w: bookmark url required", ErrInvalid)
	}

	s.bookmarksMu.Lock()
	defer s.bookmarksMu.Unlock()

	bookmarks, err := s.Bookmarks(ctx)
	if err != nil {
		return false, err
	}
	if slices.ContainsFunc(bookmarks, func(existing Bookmark) bool { return existing.URL == b.URL }) {
		return false, nil
	}
	b.BookmarkedAt = s.now().UTC().Format(time.RFC3339)
	bookmarks = append(bookmarks, b)
	if err := s.setJSON(ctx, store.KeyBookmarks, bookmarks); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveBookmark drops the bookmark with url, if any.
func (s *Store) RemoveBookmark(ctx context.Context, url string) error {
	s.bookmarksMu.Lock()
	defer s.bookmarksMu.Unlock()

	bookmarks, err := s.Bookmarks(ctx)
	if err != nil {
		return err
	}
	filtered := slices.DeleteFunc(bookmarks, func(b Bookmark) bool { return b.URL == url })
	return s.setJSON(ctx, store.KeyBookmarks, filtered)
}

func (s *Store) IsBookmarked(ctx context.Context, url string) (bool, error) {
	bookmarks, err := s.Bookmarks(ctx)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(bookmarks, func(b Bookmark) bool { return b.URL == url }), nil
}

// ClearBookmarks deletes every bookmark.
func (s *Store) ClearBookmarks(ctx context.Context) error {
	s.bookmarksMu.Lock()
	defer s.bookmarksMu.Unlock()
	if err := s.kv.RemoveItem(ctx, store.KeyBookmarks); err != nil {
		return fmt.Errorf("userdata: clear bookmarks: %w", err)
	}
	return nil
}
