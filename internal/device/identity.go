package device

import (
	"context"
	"unicode/utf16"
)

// IndexSpace is the exclusive upper bound of local indexes.
const IndexSpace = 1000

// IndexProvider derives the local index of a device.
type IndexProvider interface {
	Index(ctx context.Context, basePath string, deviceType string) (int, error)
}

// StableIndex hashes basePath into [0, IndexSpace).
//
// The hash is h = h*31 + c over UTF-16 code units in wrapping 32-bit
// arithmetic, then |h| mod 1000. Installed systems depend on these exact
// values, so the function must not change. Distinct paths can collide.
func StableIndex(basePath string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(basePath)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % IndexSpace)
}

// HashIndexProvider is the stateless index scheme.
type HashIndexProvider struct{}

// Index implements IndexProvider.
func (HashIndexProvider) Index(_ context.Context, basePath string, _ string) (int, error) {
	return StableIndex(basePath), nil
}
