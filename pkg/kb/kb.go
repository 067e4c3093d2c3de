// Package kb implements the regulatory knowledge base: an in-process map of
// changes with word, impact, domain and body indexes, backed by a relational
// store and an optional JSON snapshot written at shutdown.
package kb

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// defaultMaxInMemory bounds the in-process change map.
const defaultMaxInMemory = 10000

// SearchFilters narrows search results. Zero values mean no filter.
type SearchFilters struct {
	RegulatoryBody string
	ImpactLevel    model.ImpactLevel
}

// Stats is a snapshot of knowledge-base counters.
type Stats struct {
	TotalStored    int64 `json:"total_stored"`
	TotalSearches  int64 `json:"total_searches"`
	TotalEvictions int64 `json:"total_evictions"`
	InMemory       int   `json:"in_memory"`
	IndexedWords   int   `json:"indexed_words"`
}

// Config controls knowledge-base sizing.
type Config struct {
	MaxChangesInMemory int // default 10000
}

// KnowledgeBase owns stored RegulatoryChange records. Lock order is storage
// before index; callers never hold both through an external call.
type KnowledgeBase struct {
	store  ChangeStore // nil in memory-only mode
	logger *slog.Logger
	maxMem int

	storageMu sync.Mutex
	changes   map[string]*model.RegulatoryChange
	lru       *list.List // front = most recent
	lruItems  map[string]*list.Element
	pins      map[string]int

	indexMu     sync.Mutex
	wordIndex   map[string]map[string]struct{}
	impactIndex map[model.ImpactLevel]map[string]struct{}
	domainIndex map[int]map[string]struct{}
	bodyIndex   map[string]map[string]struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New creates a knowledge base. store may be nil (memory-only, used in
// tests); nil logger falls back to slog.Default.
func New(cfg Config, store ChangeStore, logger *slog.Logger) *KnowledgeBase {
	if cfg.MaxChangesInMemory <= 0 {
		cfg.MaxChangesInMemory = defaultMaxInMemory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeBase{
		store:       store,
		logger:      logger.With("component", "kb"),
		maxMem:      cfg.MaxChangesInMemory,
		changes:     make(map[string]*model.RegulatoryChange),
		lru:         list.New(),
		lruItems:    make(map[string]*list.Element),
		pins:        make(map[string]int),
		wordIndex:   make(map[string]map[string]struct{}),
		impactIndex: make(map[model.ImpactLevel]map[string]struct{}),
		domainIndex: make(map[int]map[string]struct{}),
		bodyIndex:   make(map[string]map[string]struct{}),
	}
}

// Store upserts a change: relational row, in-memory map, all four indexes.
func (k *KnowledgeBase) Store(ctx context.Context, change *model.RegulatoryChange) error {
	if change == nil || change.ChangeID == "" {
		return fmt.Errorf("change requires a change_id")
	}
	cp := change.Clone()

	if k.store != nil {
		if err := k.store.Upsert(ctx, cp); err != nil {
			return fmt.Errorf("upsert change %s: %w", cp.ChangeID, err)
		}
	}

	k.storageMu.Lock()
	_, existed := k.changes[cp.ChangeID]
	k.changes[cp.ChangeID] = cp
	k.touch(cp.ChangeID)
	evicted := k.evictOver()
	k.storageMu.Unlock()

	k.indexMu.Lock()
	if existed {
		k.deindex(cp.ChangeID)
	}
	k.index(cp)
	for _, id := range evicted {
		k.deindex(id)
	}
	k.indexMu.Unlock()

	k.statsMu.Lock()
	k.stats.TotalStored++
	k.stats.TotalEvictions += int64(len(evicted))
	k.statsMu.Unlock()
	return nil
}

// Get returns a change by ID, consulting memory first and the relational
// store on a miss. Misses pulled from the store are cached.
func (k *KnowledgeBase) Get(ctx context.Context, changeID string) (*model.RegulatoryChange, error) {
	k.storageMu.Lock()
	if c, ok := k.changes[changeID]; ok {
		k.touch(changeID)
		cp := c.Clone()
		k.storageMu.Unlock()
		return cp, nil
	}
	k.storageMu.Unlock()

	if k.store == nil {
		return nil, nil
	}
	c, err := k.store.Get(ctx, changeID)
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", changeID, err)
	}
	if c == nil {
		return nil, nil
	}

	k.storageMu.Lock()
	k.changes[c.ChangeID] = c
	k.touch(c.ChangeID)
	evicted := k.evictOver()
	k.storageMu.Unlock()

	k.indexMu.Lock()
	k.index(c)
	for _, id := range evicted {
		k.deindex(id)
	}
	k.indexMu.Unlock()
	return c.Clone(), nil
}

// Search tokenizes the query, AND-intersects the word-index postings,
// applies filters and returns up to limit results, newest first.
func (k *KnowledgeBase) Search(query string, filters SearchFilters, limit int) []*model.RegulatoryChange {
	k.statsMu.Lock()
	k.stats.TotalSearches++
	k.statsMu.Unlock()

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	k.indexMu.Lock()
	candidates := intersect(k.wordIndex, tokens)
	k.indexMu.Unlock()
	if len(candidates) == 0 {
		return nil
	}

	return k.collect(candidates, filters, limit)
}

// GetByImpact returns changes with the given impact level, newest first.
func (k *KnowledgeBase) GetByImpact(level model.ImpactLevel, limit int) []*model.RegulatoryChange {
	k.indexMu.Lock()
	ids := copyIDSet(k.impactIndex[level])
	k.indexMu.Unlock()
	return k.collect(ids, SearchFilters{}, limit)
}

// GetByDomain returns changes affecting the given business domain.
func (k *KnowledgeBase) GetByDomain(domain int, limit int) []*model.RegulatoryChange {
	k.indexMu.Lock()
	ids := copyIDSet(k.domainIndex[domain])
	k.indexMu.Unlock()
	return k.collect(ids, SearchFilters{}, limit)
}

// GetByBody returns changes from the given regulatory body.
func (k *KnowledgeBase) GetByBody(body string, limit int) []*model.RegulatoryChange {
	k.indexMu.Lock()
	ids := copyIDSet(k.bodyIndex[body])
	k.indexMu.Unlock()
	return k.collect(ids, SearchFilters{}, limit)
}

// GetRecent returns changes detected within the last `days` days.
func (k *KnowledgeBase) GetRecent(days int, limit int) []*model.RegulatoryChange {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []*model.RegulatoryChange
	k.storageMu.Lock()
	for _, c := range k.changes {
		if c.DetectedAt.After(cutoff) {
			out = append(out, c.Clone())
		}
	}
	k.storageMu.Unlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateStatus advances a change's status, enforcing the monotonic
// life-cycle invariant, and persists the result.
func (k *KnowledgeBase) UpdateStatus(ctx context.Context, changeID string, next model.ChangeStatus) error {
	c, err := k.Get(ctx, changeID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("unknown change %s", changeID)
	}
	if err := c.AdvanceStatus(next); err != nil {
		return err
	}
	return k.Store(ctx, c)
}

// Pin protects a change from LRU eviction while an event referencing it is
// in flight. Pins nest.
func (k *KnowledgeBase) Pin(changeID string) {
	k.storageMu.Lock()
	k.pins[changeID]++
	k.storageMu.Unlock()
}

// Unpin releases one pin.
func (k *KnowledgeBase) Unpin(changeID string) {
	k.storageMu.Lock()
	if k.pins[changeID] > 1 {
		k.pins[changeID]--
	} else {
		delete(k.pins, changeID)
	}
	k.storageMu.Unlock()
}

// Clear truncates both the relational table and the in-memory state.
func (k *KnowledgeBase) Clear(ctx context.Context) error {
	if k.store != nil {
		if err := k.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
	}
	k.storageMu.Lock()
	k.changes = make(map[string]*model.RegulatoryChange)
	k.lru.Init()
	k.lruItems = make(map[string]*list.Element)
	k.storageMu.Unlock()

	k.indexMu.Lock()
	k.wordIndex = make(map[string]map[string]struct{})
	k.impactIndex = make(map[model.ImpactLevel]map[string]struct{})
	k.domainIndex = make(map[int]map[string]struct{})
	k.bodyIndex = make(map[string]map[string]struct{})
	k.indexMu.Unlock()
	return nil
}

// Stats returns a counter snapshot.
func (k *KnowledgeBase) Stats() Stats {
	k.statsMu.Lock()
	snap := k.stats
	k.statsMu.Unlock()
	k.storageMu.Lock()
	snap.InMemory = len(k.changes)
	k.storageMu.Unlock()
	k.indexMu.Lock()
	snap.IndexedWords = len(k.wordIndex)
	k.indexMu.Unlock()
	return snap
}

// collect resolves an ID set to clones, applies filters and orders newest
// first.
func (k *KnowledgeBase) collect(ids map[string]struct{}, filters SearchFilters, limit int) []*model.RegulatoryChange {
	var out []*model.RegulatoryChange
	k.storageMu.Lock()
	for id := range ids {
		c, ok := k.changes[id]
		if !ok {
			continue
		}
		if filters.RegulatoryBody != "" && c.Metadata.RegulatoryBody != filters.RegulatoryBody {
			continue
		}
		if filters.ImpactLevel != "" {
			if c.Analysis == nil || c.Analysis.ImpactLevel != filters.ImpactLevel {
				continue
			}
		}
		out = append(out, c.Clone())
	}
	k.storageMu.Unlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// touch moves an ID to the LRU front. Caller holds storageMu.
func (k *KnowledgeBase) touch(changeID string) {
	if el, ok := k.lruItems[changeID]; ok {
		k.lru.MoveToFront(el)
		return
	}
	k.lruItems[changeID] = k.lru.PushFront(changeID)
}

// evictOver drops least-recently-used unpinned changes until the map fits
// the bound, returning the evicted IDs. Caller holds storageMu; the caller
// deindexes afterwards.
func (k *KnowledgeBase) evictOver() []string {
	var evicted []string
	el := k.lru.Back()
	for len(k.changes) > k.maxMem && el != nil {
		prev := el.Prev()
		id := el.Value.(string)
		if _, pinned := k.pins[id]; !pinned {
			delete(k.changes, id)
			delete(k.lruItems, id)
			k.lru.Remove(el)
			evicted = append(evicted, id)
		}
		el = prev
	}
	return evicted
}

// index adds a change to all four indexes. Caller holds indexMu.
func (k *KnowledgeBase) index(c *model.RegulatoryChange) {
	id := c.ChangeID
	for _, token := range indexableTokens(c) {
		addToSet(k.wordIndex, token, id)
	}
	if c.Analysis != nil {
		addToSet(k.impactIndex, c.Analysis.ImpactLevel, id)
		for _, d := range c.Analysis.AffectedDomains {
			addToSet(k.domainIndex, d, id)
		}
	}
	if c.Metadata.RegulatoryBody != "" {
		addToSet(k.bodyIndex, c.Metadata.RegulatoryBody, id)
	}
}

// deindex removes a change ID from every index posting. Caller holds
// indexMu.
func (k *KnowledgeBase) deindex(changeID string) {
	removeFromSets(k.wordIndex, changeID)
	removeFromSets(k.impactIndex, changeID)
	removeFromSets(k.domainIndex, changeID)
	removeFromSets(k.bodyIndex, changeID)
}

// indexableTokens yields the token set for the word index: title, keywords
// and executive summary.
func indexableTokens(c *model.RegulatoryChange) []string {
	var text strings.Builder
	text.WriteString(c.Title)
	for _, kw := range c.Metadata.Keywords {
		text.WriteString(" ")
		text.WriteString(kw)
	}
	if c.Analysis != nil {
		text.WriteString(" ")
		text.WriteString(c.Analysis.ExecutiveSummary)
	}
	return tokenize(text.String())
}

// tokenize splits on non-alphanumerics, lowercases and drops tokens shorter
// than 3 characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func intersect(index map[string]map[string]struct{}, tokens []string) map[string]struct{} {
	var result map[string]struct{}
	for _, token := range tokens {
		postings, ok := index[token]
		if !ok {
			return nil
		}
		if result == nil {
			result = copyIDSet(postings)
			continue
		}
		for id := range result {
			if _, ok := postings[id]; !ok {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

func addToSet[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSets[K comparable](index map[K]map[string]struct{}, id string) {
	for key, set := range index {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func copyIDSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

func sortNewestFirst(changes []*model.RegulatoryChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].DetectedAt.After(changes[j].DetectedAt)
	})
}
