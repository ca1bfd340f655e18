package cache

import (
	"sort"
	"strings"

	"github.com/l0p7/feedstack/internal/store"
)

// GenerateKey derives a deterministic cache key from a namespace prefix and the
// request parameters. Parameter names are sorted and rendered as name:value
// joined by "|". Optional parameters should be passed as empty strings so they
// still occupy a slot in the key.
func GenerateKey(prefix string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+":"+params[name])
	}
	return store.KeyCachePrefix + prefix + ":" + strings.Join(parts, "|")
}

// namespaceOf extracts the prefix segment used as the metrics namespace label.
func namespaceOf(key string) string {
	rest, ok := strings.CutPrefix(key, store.KeyCachePrefix)
	if !ok {
		return "other"
	}
	if idx := strings.IndexByte(rest, ':'); idx > 0 {
		return rest[:idx]
	}
	return "other"
}
