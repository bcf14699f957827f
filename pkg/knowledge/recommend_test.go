package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelatedTo(t *testing.T) {
	source := &Package{ID: 1, Category: CategoryWebFramework, Framework: "React"}
	candidates := []*Package{
		source,
		{ID: 2, Category: CategoryWebFramework, Framework: "Vue", Downloads: 10},
		{ID: 3, Category: CategoryWebFramework, Framework: "react"},
		{ID: 4, Category: CategoryGameEngine, Framework: "React"},
		{ID: 5, Category: CategoryGameEngine, Framework: "Godot", Downloads: 99},
		{ID: 6, Category: CategoryWebFramework, Framework: "Vue", Downloads: 10},
	}

	items := RelatedTo(source, candidates, 10)

	var got [][2]int64
	for _, it := range items {
		got = append(got, [2]int64{it.ID, int64(it.Score)})
	}
	assert.Equal(t, [][2]int64{
		{3, 5},
		{2, 3},
		{6, 3},
		{4, 2},
		{5, 0},
	}, got)

	assert.Len(t, RelatedTo(source, candidates, 2), 2)
}

func TestRelatedTo_NoFrameworkBonusWithoutFramework(t *testing.T) {
	source := &Package{ID: 1, Category: CategoryAPI}
	items := RelatedTo(source, []*Package{{ID: 2, Category: CategoryLibrary}}, 5)
	if assert.Len(t, items, 1) {
		assert.Equal(t, 0, items[0].Score)
	}
}

func TestSuggestTags(t *testing.T) {
	text := "A 3D game engine with physics, shader graphs and a REST API.\nSee api-reference."

	got := SuggestTags(text, []string{"Game", "engine"})
	assert.Equal(t, []string{"3d", "api", "physics", "rest", "shader"}, got)

	assert.Empty(t, SuggestTags("nothing relevant here", nil))
	assert.NotNil(t, SuggestTags("", nil))
}
