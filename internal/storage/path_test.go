package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

func TestPathKeys(t *testing.T) {
	assert.Nil(t, storage.PathKeys(""))
	assert.Nil(t, storage.PathKeys("/"))
	assert.Equal(t, []string{"a"}, storage.PathKeys("a"))
	assert.Equal(t, []string{"a", "b", "c"}, storage.PathKeys("/a/b/c/"))
}

func TestChildAndParentPath(t *testing.T) {
	assert.Equal(t, "a", storage.ChildPath("", "a"))
	assert.Equal(t, "a/b", storage.ChildPath("a", "b"))
	assert.Equal(t, "a", storage.ParentPath("a/b"))
	assert.Equal(t, "", storage.ParentPath("a"))
}

func TestIsDescendant(t *testing.T) {
	assert.True(t, storage.IsDescendant("a/b/c", "a/b"))
	assert.True(t, storage.IsDescendant("a", ""))
	assert.False(t, storage.IsDescendant("a/b", "a/b"))
	assert.False(t, storage.IsDescendant("ab/c", "a"))
}

func TestIsOnTrailOf(t *testing.T) {
	assert.True(t, storage.IsOnTrailOf("a", "a/b/c"))
	assert.True(t, storage.IsOnTrailOf("a/b/c", "a/b/c"))
	assert.False(t, storage.IsOnTrailOf("a/b/c", "a"))
}

func TestMatchWildcardPath(t *testing.T) {
	vars, ok := storage.MatchWildcardPath("users/$uid/posts/*", "users/u1/posts/p9")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"uid": "u1", "wildcard0": "p9"}, vars)

	_, ok = storage.MatchWildcardPath("users/$uid", "users/u1/extra")
	assert.False(t, ok)

	_, ok = storage.MatchWildcardPath("users/u2", "users/u1")
	assert.False(t, ok)

	vars, ok = storage.MatchWildcardPath("a/b", "a/b")
	assert.True(t, ok)
	assert.Empty(t, vars)
}

func TestHasWildcards(t *testing.T) {
	assert.True(t, storage.HasWildcards("users/$uid"))
	assert.True(t, storage.HasWildcards("users/*/posts"))
	assert.False(t, storage.HasWildcards("users/u1"))
}
