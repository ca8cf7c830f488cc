package fts

import (
	"sort"
	"testing"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

func sortedHex(ids []identifier.EntityId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.ToHex()
	}
	sort.Strings(out)
	return out
}

func TestIndexTextAndSearchAND(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)

	a, b := identifier.New(), identifier.New()
	if err := ix.IndexText(1, "body", a, "the quick brown fox"); err != nil {
		t.Fatalf("IndexText a: %v", err)
	}
	if err := ix.IndexText(1, "body", b, "quick brown dog"); err != nil {
		t.Fatalf("IndexText b: %v", err)
	}

	got, err := ix.Search(1, "body", "quick brown")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := sortedHex([]identifier.EntityId{a, b})
	gotHex := sortedHex(got)
	if len(gotHex) != len(want) {
		t.Fatalf("Search(quick brown) = %v, want both entities %v", gotHex, want)
	}
	for i := range want {
		if gotHex[i] != want[i] {
			t.Fatalf("Search(quick brown) = %v, want %v", gotHex, want)
		}
	}

	got, err = ix.Search(1, "body", "fox")
	if err != nil {
		t.Fatalf("Search fox: %v", err)
	}
	if len(got) != 1 || got[0] != a {
		t.Fatalf("Search(fox) = %v, want [%v]", got, a)
	}
}

func TestSearchAnyOR(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	a, b := identifier.New(), identifier.New()
	ix.IndexText(1, "body", a, "apples")
	ix.IndexText(1, "body", b, "bananas")

	got, err := ix.SearchAny(1, "body", "apples bananas")
	if err != nil {
		t.Fatalf("SearchAny: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchAny len = %d, want 2", len(got))
	}
}

func TestSearchPrefixIgnoresLengthFilter(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 4, 32, false)
	id := identifier.New()
	if err := ix.IndexText(1, "body", id, "catalog category cat"); err != nil {
		t.Fatalf("IndexText: %v", err)
	}
	// "cat" itself is below min_token_length=4 so it was never indexed,
	// but the 1-2 char prefix "ca" must still match catalog/category.
	got, err := ix.SearchPrefix(1, "body", "ca")
	if err != nil {
		t.Fatalf("SearchPrefix: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("SearchPrefix(ca) = %v, want [%v]", got, id)
	}
}

func TestIndexTextIsIdempotent(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	id := identifier.New()
	if err := ix.IndexText(1, "body", id, "hello world"); err != nil {
		t.Fatalf("first IndexText: %v", err)
	}
	n1, _ := ix.UniqueTokenCount(1, "body")
	if err := ix.IndexText(1, "body", id, "hello world"); err != nil {
		t.Fatalf("second IndexText: %v", err)
	}
	n2, _ := ix.UniqueTokenCount(1, "body")
	if n1 != n2 {
		t.Fatalf("UniqueTokenCount changed on idempotent re-index: %d -> %d", n1, n2)
	}
	got, err := ix.Search(1, "body", "hello")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("Search(hello) = %v, want [%v]", got, id)
	}
}

func TestReindexDropsOldTokens(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	id := identifier.New()
	ix.IndexText(1, "body", id, "alpha beta")
	ix.IndexText(1, "body", id, "gamma")

	got, _ := ix.Search(1, "body", "alpha")
	if len(got) != 0 {
		t.Fatalf("Search(alpha) after re-index = %v, want empty", got)
	}
	got, _ = ix.Search(1, "body", "gamma")
	if len(got) != 1 || got[0] != id {
		t.Fatalf("Search(gamma) = %v, want [%v]", got, id)
	}
}

func TestRemoveEntity(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	id := identifier.New()
	ix.IndexText(1, "body", id, "alpha beta")
	if err := ix.RemoveEntity(1, "body", id); err != nil {
		t.Fatalf("RemoveEntity: %v", err)
	}
	got, _ := ix.Search(1, "body", "alpha")
	if len(got) != 0 {
		t.Fatalf("Search after RemoveEntity = %v, want empty", got)
	}
	if n, _ := ix.UniqueTokenCount(1, "body"); n != 0 {
		t.Fatalf("UniqueTokenCount after RemoveEntity = %d, want 0", n)
	}
}

func TestClearEmptiesButKeepsRegistered(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	ix.IndexText(1, "body", identifier.New(), "alpha beta")
	if err := ix.Clear(1, "body"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := ix.UniqueTokenCount(1, "body"); n != 0 {
		t.Fatalf("UniqueTokenCount after Clear = %d, want 0", n)
	}
	if !ix.Exists(1, "body") {
		t.Fatal("Exists after Clear = false, want true")
	}
}

func TestDropThenNotFound(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	ix.Drop(1, "body")
	if _, err := ix.Search(1, "body", "x"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("Search after Drop err = %v, want NotFound", err)
	}
}

func TestCaseInsensitiveByDefault(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	id := identifier.New()
	ix.IndexText(1, "body", id, "Hello World")
	got, err := ix.Search(1, "body", "hello")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("Search(hello) case-insensitive = %v, want [%v]", got, id)
	}
}

func TestCaseSensitiveWhenConfigured(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, true)
	id := identifier.New()
	ix.IndexText(1, "body", id, "Hello")
	got, _ := ix.Search(1, "body", "hello")
	if len(got) != 0 {
		t.Fatalf("Search(hello) against case-sensitive \"Hello\" = %v, want empty", got)
	}
	got, err := ix.Search(1, "body", "Hello")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("Search(Hello) = %v, want [%v]", got, id)
	}
}

func TestEmptyQueryReturnsEmptyResult(t *testing.T) {
	ix := New()
	ix.Create(1, "body", 2, 32, false)
	ix.IndexText(1, "body", identifier.New(), "alpha beta")

	got, err := ix.Search(1, "body", "")
	if err != nil {
		t.Fatalf("Search(\"\"): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search(\"\") = %v, want empty", got)
	}
	got, err = ix.SearchAny(1, "body", "")
	if err != nil {
		t.Fatalf("SearchAny(\"\"): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("SearchAny(\"\") = %v, want empty", got)
	}
}
