// Package tenant models per-user isolation. Each user owns exactly one pair
// of store classes (Source, Chunk) whose names are derived from the user's
// normalized identifier.
package tenant

import "strings"

const (
	// sourceClassPrefix names the per-user Source class. One Source per
	// saved page.
	sourceClassPrefix = "KnowledgeSourceId_"

	// chunkClassPrefix names the per-user Chunk class. Many Chunks per
	// Source, one per text segment plus one for the title.
	chunkClassPrefix = "ContentId_"
)

// Namespace wraps a normalized user identifier and produces the stable class
// names for that user's collections. It is a value type: construct it once per
// request and pass it around instead of formatting class names ad hoc.
type Namespace struct {
	id string
}

// NewNamespace normalizes a raw user identifier into a Namespace.
// Normalization maps every byte outside [A-Za-z0-9_] to '_', so identity
// provider subjects like "4f9d-ab31" become "4f9d_ab31". The mapping is
// deterministic: the same subject always yields the same class names.
func NewNamespace(userID string) Namespace {
	return Namespace{id: normalize(userID)}
}

// ID returns the normalized user identifier.
func (n Namespace) ID() string {
	return n.id
}

// SourceClass returns the name of this user's Source collection.
func (n Namespace) SourceClass() string {
	return sourceClassPrefix + n.id
}

// ChunkClass returns the name of this user's Chunk collection.
func (n Namespace) ChunkClass() string {
	return chunkClassPrefix + n.id
}

// IsZero reports whether the namespace carries no user id.
func (n Namespace) IsZero() bool {
	return n.id == ""
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
