package hierarchy

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/frak-id/atelier-sub002/internal/models"
)

func sess(id, parent string) models.Session {
	return models.Session{ID: id, ParentID: parent, Title: id}
}

func ids(sessions []models.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestBuild(t *testing.T) {
	t.Run("links children in insertion order", func(t *testing.T) {
		forest := Build([]models.Session{
			sess("s1", ""),
			sess("s2", "s1"),
			sess("s3", "s1"),
			sess("s4", "s2"),
			sess("s5", ""),
		})

		require.Len(t, forest, 2)
		assert.Equal(t, "s1", forest[0].Session.ID)
		assert.Equal(t, "s5", forest[1].Session.ID)
		require.Len(t, forest[0].Children, 2)
		assert.Equal(t, "s2", forest[0].Children[0].Session.ID)
		assert.Equal(t, "s3", forest[0].Children[1].Session.ID)
		assert.Equal(t, []string{"s1", "s2", "s4", "s3", "s5"}, ids(Flatten(forest)))
		assert.Equal(t, 3, CountSubSessions(forest[0]))
		assert.Equal(t, 0, CountSubSessions(forest[1]))
	})

	t.Run("child listed before parent", func(t *testing.T) {
		forest := Build([]models.Session{sess("c", "p"), sess("p", "")})
		require.Len(t, forest, 1)
		assert.Equal(t, "p", forest[0].Session.ID)
		assert.Equal(t, "c", forest[0].Children[0].Session.ID)
	})

	t.Run("unknown parent becomes root", func(t *testing.T) {
		forest := Build([]models.Session{sess("orphan", "missing"), sess("s1", "")})
		require.Len(t, forest, 2)
		assert.Equal(t, "orphan", forest[0].Session.ID)
	})

	t.Run("cycles are broken", func(t *testing.T) {
		forest := Build([]models.Session{sess("a", "b"), sess("b", "a"), sess("self", "self")})
		assert.ElementsMatch(t, []string{"a", "b", "self"}, ids(Flatten(forest)))
	})

	t.Run("empty input", func(t *testing.T) {
		forest := Build(nil)
		assert.NotNil(t, forest)
		assert.Empty(t, Flatten(forest))
	})
}

func TestForTask(t *testing.T) {
	forest := Build([]models.Session{
		sess("s1", ""),
		sess("s2", "s1"),
		sess("s3", "s2"),
		sess("other", ""),
		sess("s4", ""),
	})

	tree := ForTask(forest, []string{"s1", "s4", "gone"})
	assert.Equal(t, 2, tree.RootCount)
	assert.Equal(t, 4, tree.TotalCount)
	assert.Equal(t, 2, tree.SubsessionCount)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, ids(tree.All))
	assert.Equal(t, map[string]bool{"s1": true, "s4": true}, tree.RootIDs())

	t.Run("nested root is counted once", func(t *testing.T) {
		tree := ForTask(forest, []string{"s1", "s2"})
		assert.Equal(t, []string{"s1", "s2", "s3"}, ids(tree.All))
		assert.Equal(t, 1, tree.RootCount)
	})

	t.Run("no sessions", func(t *testing.T) {
		tree := ForTask(forest, nil)
		assert.Equal(t, 0, tree.TotalCount)
		assert.Empty(t, tree.All)
	})
}

func TestBuildFlattenRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "n")
		sessions := make([]models.Session, n)
		for i := range sessions {
			parent := ""
			switch rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("kind%d", i)) {
			case 1, 2:
				if i > 0 {
					parent = fmt.Sprintf("s%d", rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("parent%d", i)))
				}
			case 3:
				parent = fmt.Sprintf("missing%d", i)
			}
			sessions[i] = sess(fmt.Sprintf("s%d", i), parent)
		}
		// Shuffle so children may precede their parents.
		perm := rapid.Permutation(sessions).Draw(rt, "order")

		got := ids(Flatten(Build(perm)))
		want := ids(perm)
		sort.Strings(got)
		sort.Strings(want)
		if len(got) != len(want) {
			rt.Fatalf("flatten returned %d sessions, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				rt.Fatalf("id mismatch at %d: %s != %s", i, got[i], want[i])
			}
		}
	})
}
