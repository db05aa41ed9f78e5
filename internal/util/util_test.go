package util

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestContainsFold(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		item     string
		expected bool
	}{
		{"exact match", []string{"react", "go"}, "go", true},
		{"case insensitive", []string{"React", "Go"}, "react", true},
		{"trimmed", []string{" arxiv.org "}, "arxiv.org", true},
		{"missing", []string{"react"}, "vue", false},
		{"empty slice", nil, "go", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainsFold(tt.slice, tt.item))
		})
	}
}

func TestDedup(t *testing.T) {
	got := Dedup([]string{"missing metric", " missing metric", "", "code does not run", "missing metric"})
	assert.Equal(t, []string{"missing metric", "code does not run"}, got)
	assert.Empty(t, Dedup(nil))
}

func TestMedianInt(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   int
	}{
		{"empty", nil, 0},
		{"single", []int{4}, 4},
		{"outlier ignored", []int{3, 0, 0}, 0},
		{"two of three high", []int{3, 3, 0}, 3},
		{"even count uses lower middle", []int{5, 1, 2, 9}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MedianInt(tt.values))
		})
	}
}

func TestMedianIntDoesNotMutateInput(t *testing.T) {
	in := []int{3, 1, 2}
	MedianInt(in)
	assert.Equal(t, []int{3, 1, 2}, in)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}

func TestKeywords(t *testing.T) {
	got := Keywords("What are the best retrieval-augmented generation techniques for LLMs and how do they compare?", 0)
	assert.Equal(t, []string{"retrieval-augmented", "generation", "techniques", "llms"}, got)

	limited := Keywords("transformer attention sparse attention kernels", 2)
	assert.Equal(t, []string{"transformer", "attention"}, limited)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		want          string
	}{
		{"short string untouched", "hello", 10, false, "hello"},
		{"hard cut", "abcdefghij", 6, false, "abc..."},
		{"word boundary", "This is a very long string", 12, true, "This is..."},
		{"tiny max", "abcdef", 2, false, ".."},
		{"zero max", "abc", 0, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateString(tt.input, tt.maxLen, tt.preserveWords))
		})
	}
}

func TestTruncateString_UTF8(t *testing.T) {
	inputs := []string{
		"查询中文数据库中的用户信息",
		"Query for 用户信息 in the database system",
		"Hello 👋 World 🌍 Testing 🎉 Emoji",
	}
	for _, in := range inputs {
		got := TruncateString(in, 10, true)
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, utf8.RuneCountInString(got), 10)
		assert.Contains(t, got, "...")
	}
}
