package llmutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseJSON(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		got, err := ParseJSON[payload](`{"name": "alpha", "count": 2}`)
		require.NoError(t, err)
		assert.Equal(t, &payload{Name: "alpha", Count: 2}, got)
	})

	t.Run("fenced object", func(t *testing.T) {
		got, err := ParseJSON[payload]("```json\n{\"name\": \"beta\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "beta", got.Name)
	})

	t.Run("fence without language tag", func(t *testing.T) {
		got, err := ParseJSON[payload]("```\n{\"count\": 7}\n```")
		require.NoError(t, err)
		assert.Equal(t, 7, got.Count)
	})

	t.Run("object buried in prose", func(t *testing.T) {
		got, err := ParseJSON[payload](`Sure, here is the result: {"name": "gamma", "count": 1} Let me know!`)
		require.NoError(t, err)
		assert.Equal(t, "gamma", got.Name)
	})

	t.Run("bare array", func(t *testing.T) {
		got, err := ParseJSON[[]int]("```json\n[1, 2, 3]\n```")
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, *got)
	})

	t.Run("array nested in object stays attached", func(t *testing.T) {
		got, err := ParseJSON[map[string][]int](`The plan: {"steps": [1, 2]}`)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, (*got)["steps"])
	})

	t.Run("not JSON at all", func(t *testing.T) {
		_, err := ParseJSON[payload]("I cannot help with that.")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal")
	})

	t.Run("error truncates long input", func(t *testing.T) {
		long := "{" + strings.Repeat("x", 2000)
		_, err := ParseJSON[payload](long)
		require.Error(t, err)
		assert.Less(t, len(err.Error()), 700)
	})
}
