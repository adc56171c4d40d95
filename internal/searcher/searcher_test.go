package searcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestQueryEmptyStringMatchesEverything(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"Apple"}, Doc: "apple"},
		{Queries: []string{"Banana"}, Doc: "banana"},
	})
	require.ElementsMatch(t, []string{"apple", "banana"}, s.Query(""))
}

func TestQueryIsCaseInsensitiveSubstring(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"Golden Retriever"}, Doc: "dog"},
		{Queries: []string{"Siamese Cat"}, Doc: "cat"},
	})
	require.Equal(t, []string{"dog"}, s.Query("RETRIEVE"))
	require.Empty(t, s.Query("xyz"))
}

func TestQueryOrderedSortsByOrderAndTruncates(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"c"}, Order: intPtr(3), Doc: "c"},
		{Queries: []string{"a"}, Order: intPtr(1), Doc: "a"},
		{Queries: []string{"b"}, Order: intPtr(2), Doc: "b"},
	})
	require.Equal(t, []string{"a", "b"}, s.QueryOrdered("", 2))
}

func TestQueryOrderedPutsUnorderedDocsLast(t *testing.T) {
	s := New[string]()
	s.UpdateData([]Document[string]{
		{Queries: []string{"x"}, Doc: "no-order"},
		{Queries: []string{"y"}, Order: intPtr(5), Doc: "ordered"},
	})
	require.Equal(t, []string{"ordered", "no-order"}, s.QueryOrdered("", 0))
}
