// Package fts implements the full-text secondary index: a tokenized
// inverted index over (collection, field), with a reverse posting map
// so an entity can be re-indexed or removed without a full scan
// (spec.md §4.7). The forward/reverse posting maps follow the
// RWMutex-guarded shape of osakka-entitydb's TagDictionary (RLock for
// searches, Lock for mutations), without a separate id<->string table,
// since tokens here are kept as strings rather than numeric ids.
package fts

import (
	"strings"
	"sync"
	"unicode"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

type fieldKey struct {
	cid   uint32
	field string
}

type config struct {
	minTokenLen   int
	maxTokenLen   int
	caseSensitive bool

	mu      sync.RWMutex
	forward map[string]map[identifier.EntityId]struct{} // token -> ids
	reverse map[identifier.EntityId]map[string]struct{} // id -> tokens
}

// Index holds every full-text index registered across every
// (cid, field). Owned exclusively by the database and mutated only
// under the writer lock; searches may run concurrently with the writer.
type Index struct {
	mu     sync.RWMutex
	fields map[fieldKey]*config
}

// New returns an empty full-text-index set.
func New() *Index {
	return &Index{fields: make(map[fieldKey]*config)}
}

// Create registers a full-text index on (cid, field). Re-registering
// an already-registered (cid, field) is a no-op.
func (ix *Index) Create(cid uint32, field string, minTokenLen, maxTokenLen int, caseSensitive bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, field}
	if _, ok := ix.fields[k]; ok {
		return
	}
	ix.fields[k] = &config{
		minTokenLen:   minTokenLen,
		maxTokenLen:   maxTokenLen,
		caseSensitive: caseSensitive,
		forward:       make(map[string]map[identifier.EntityId]struct{}),
		reverse:       make(map[identifier.EntityId]map[string]struct{}),
	}
}

func (ix *Index) lookupConfig(cid uint32, field string) (*config, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.fields[fieldKey{cid, field}]
	if !ok {
		return nil, errs.New(errs.NotFound, "fts.Index", nil)
	}
	return c, nil
}

// tokenize splits text on any Unicode non-alphanumeric codepoint,
// drops tokens outside [min, max] codepoints, and lowercases unless
// caseSensitive. Length filters apply; SearchPrefix does not tokenize
// its pattern and calls normalize directly instead.
func (c *config) tokenize(text string) []string {
	raw := splitNonAlphanumeric(text)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		n := len([]rune(tok))
		if n < c.minTokenLen || n > c.maxTokenLen {
			continue
		}
		out = append(out, c.normalize(tok))
	}
	return out
}

func (c *config) normalize(tok string) string {
	if c.caseSensitive {
		return tok
	}
	return strings.ToLower(tok)
}

func splitNonAlphanumeric(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IndexText re-indexes id: removes all of id's previous tokens under
// this index (via the reverse map), then inserts its new token set.
// Idempotent: indexing the same (id, text) pair twice leaves the same
// state as indexing it once.
func (ix *Index) IndexText(cid uint32, field string, id identifier.EntityId, text string) error {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for tok := range c.reverse[id] {
		if members := c.forward[tok]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(c.forward, tok)
			}
		}
	}
	delete(c.reverse, id)

	tokens := c.tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	toks := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		toks[tok] = struct{}{}
		members := c.forward[tok]
		if members == nil {
			members = make(map[identifier.EntityId]struct{})
			c.forward[tok] = members
		}
		members[id] = struct{}{}
	}
	c.reverse[id] = toks
	return nil
}

// RemoveEntity removes id from every posting under this index.
func (ix *Index) RemoveEntity(cid uint32, field string, id identifier.EntityId) error {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for tok := range c.reverse[id] {
		if members := c.forward[tok]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(c.forward, tok)
			}
		}
	}
	delete(c.reverse, id)
	return nil
}

// Search tokenizes q and returns the intersection of every token's
// posting list (AND semantics). An empty token set after filtering
// returns an empty result.
func (ix *Index) Search(cid uint32, field, q string) ([]identifier.EntityId, error) {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	tokens := c.tokenize(q)
	if len(tokens) == 0 {
		return nil, nil
	}
	var acc map[identifier.EntityId]struct{}
	for _, tok := range tokens {
		members := c.forward[tok]
		if len(members) == 0 {
			return nil, nil
		}
		if acc == nil {
			acc = make(map[identifier.EntityId]struct{}, len(members))
			for id := range members {
				acc[id] = struct{}{}
			}
			continue
		}
		for id := range acc {
			if _, ok := members[id]; !ok {
				delete(acc, id)
			}
		}
	}
	return setToSlice(acc), nil
}

// SearchAny tokenizes q and returns the union of every token's posting
// list (OR semantics). An empty query returns an empty result.
func (ix *Index) SearchAny(cid uint32, field, q string) ([]identifier.EntityId, error) {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	tokens := c.tokenize(q)
	if len(tokens) == 0 {
		return nil, nil
	}
	acc := make(map[identifier.EntityId]struct{})
	for _, tok := range tokens {
		for id := range c.forward[tok] {
			acc[id] = struct{}{}
		}
	}
	return setToSlice(acc), nil
}

// SearchPrefix normalizes p the same way indexing does (lowercase
// unless case_sensitive) but applies no length filter, then returns
// the union of posting lists for every forward-map token starting
// with the normalized prefix.
func (ix *Index) SearchPrefix(cid uint32, field, p string) ([]identifier.EntityId, error) {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefix := c.normalize(p)
	if prefix == "" {
		return nil, nil
	}
	acc := make(map[identifier.EntityId]struct{})
	for tok, members := range c.forward {
		if strings.HasPrefix(tok, prefix) {
			for id := range members {
				acc[id] = struct{}{}
			}
		}
	}
	return setToSlice(acc), nil
}

// UniqueTokenCount returns the size of the forward map.
func (ix *Index) UniqueTokenCount(cid uint32, field string) (int, error) {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.forward), nil
}

// Clear empties postings and the reverse map; the index remains
// registered.
func (ix *Index) Clear(cid uint32, field string) error {
	c, err := ix.lookupConfig(cid, field)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = make(map[string]map[identifier.EntityId]struct{})
	c.reverse = make(map[identifier.EntityId]map[string]struct{})
	return nil
}

// Drop removes the index entirely. Subsequent operations against
// (cid, field) fail NotFound.
func (ix *Index) Drop(cid uint32, field string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.fields, fieldKey{cid, field})
}

// Decl describes one registered (cid, field) index's configuration,
// without its postings — used by backup to serialize FTSIndexDecl
// records.
type Decl struct {
	CID           uint32
	Field         string
	MinTokenLen   int
	MaxTokenLen   int
	CaseSensitive bool
}

// Decls returns the configuration of every registered index. Order is
// unspecified.
func (ix *Index) Decls() []Decl {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Decl, 0, len(ix.fields))
	for k, c := range ix.fields {
		out = append(out, Decl{
			CID:           k.cid,
			Field:         k.field,
			MinTokenLen:   c.minTokenLen,
			MaxTokenLen:   c.maxTokenLen,
			CaseSensitive: c.caseSensitive,
		})
	}
	return out
}

// Exists reports whether (cid, field) is registered.
func (ix *Index) Exists(cid uint32, field string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.fields[fieldKey{cid, field}]
	return ok
}

func setToSlice(m map[identifier.EntityId]struct{}) []identifier.EntityId {
	out := make([]identifier.EntityId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
