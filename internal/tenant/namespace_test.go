package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace_NormalizesSubject(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   string
	}{
		{"uuid subject", "4f9d7c2e-ab31-4c1d-9e77-0c2d1b9f6a42", "4f9d7c2e_ab31_4c1d_9e77_0c2d1b9f6a42"},
		{"already clean", "user_42", "user_42"},
		{"email-ish subject", "jo@example.com", "jo_example_com"},
		{"unicode collapsed", "usér", "us__r"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewNamespace(tt.userID).ID())
		})
	}
}

func TestNamespace_ClassNames(t *testing.T) {
	ns := NewNamespace("4f9d-ab31")

	assert.Equal(t, "KnowledgeSourceId_4f9d_ab31", ns.SourceClass())
	assert.Equal(t, "ContentId_4f9d_ab31", ns.ChunkClass())
}

func TestNamespace_Deterministic(t *testing.T) {
	a := NewNamespace("some-user-id")
	b := NewNamespace("some-user-id")

	assert.Equal(t, a, b)
	assert.Equal(t, a.SourceClass(), b.SourceClass())
	assert.Equal(t, a.ChunkClass(), b.ChunkClass())
}

func TestNamespace_IsZero(t *testing.T) {
	assert.True(t, NewNamespace("").IsZero())
	assert.False(t, NewNamespace("u").IsZero())
}
