package cache

import "strings"

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "umbra:cache"

const tagNamespace = "tag"

// KeyCodec deterministically maps logical cache keys to namespaced storage
// keys. The prefix is fixed at construction; within one prefix the mapping
// is injective, so two logical keys collide only if they are identical.
// Tag sets live under the reserved "tag:" sub-namespace so they can never
// collide with primary entries.
type KeyCodec struct {
	prefix string
}

// NewKeyCodec returns a codec for the given namespace prefix. An empty
// prefix falls back to DefaultPrefix.
func NewKeyCodec(prefix string) KeyCodec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return KeyCodec{prefix: prefix}
}

// Prefix returns the configured namespace prefix.
func (c KeyCodec) Prefix() string { return c.prefix }

// Encode maps a logical key to its namespaced storage key.
func (c KeyCodec) Encode(key string) string {
	return c.prefix + ":" + key
}

// Tag maps a tag name to the storage key of its membership set.
func (c KeyCodec) Tag(name string) string {
	return c.prefix + ":" + tagNamespace + ":" + name
}

// Decode strips the namespace prefix from a storage key, reporting whether
// the key belonged to this codec's namespace.
func (c KeyCodec) Decode(storageKey string) (string, bool) {
	return strings.CutPrefix(storageKey, c.prefix+":")
}
