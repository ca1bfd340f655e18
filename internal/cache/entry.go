package cache

import "time"

// Entry is the persisted envelope around a cached payload. Timestamps are epoch
// milliseconds and ExpiresAt is always later than Timestamp.
type Entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
}

// StoredAt reports when the entry was written.
func (e Entry[T]) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.UnixMilli() > e.ExpiresAt
}

// MetadataEntry tracks one cache key inside the metadata aggregate. Size is the
// byte length of the serialized Entry document.
type MetadataEntry struct {
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
	Size      int64 `json:"size"`
}

// Metadata is the aggregate document describing every tracked cache entry.
type Metadata map[string]MetadataEntry

// TotalSize sums the recorded entry sizes.
func (m Metadata) TotalSize() int64 {
	var total int64
	for _, meta := range m {
		total += meta.Size
	}
	return total
}

// Stats summarizes cache occupancy for display.
type Stats struct {
	SizeBytes    int64 `json:"sizeBytes"`
	MaxSizeBytes int64 `json:"maxSizeBytes"`
	Entries      int   `json:"entries"`
	StoredKeys   int   `json:"storedKeys"`
}
