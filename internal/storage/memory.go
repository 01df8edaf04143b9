package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation for development and
// tests. Writes take the full lock; the chunk swap inside
// ReplacePageChunks happens under it, so readers see either the old or the
// new chunk set and never a mix.
type MemoryStore struct {
	mu         sync.RWMutex
	pages      map[uuid.UUID]*Page            // by page ID
	pageByKey  map[string]uuid.UUID           // domainID/url -> page ID
	chunks     map[uuid.UUID]*Chunk           // by chunk ID
	pageChunks map[uuid.UUID][]uuid.UUID      // page ID -> ordered chunk IDs
	metadata   map[uuid.UUID]*EntityMetadata  // by chunk ID
	embeddings map[uuid.UUID][]Embedding      // by chunk ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:      make(map[uuid.UUID]*Page),
		pageByKey:  make(map[string]uuid.UUID),
		chunks:     make(map[uuid.UUID]*Chunk),
		pageChunks: make(map[uuid.UUID][]uuid.UUID),
		metadata:   make(map[uuid.UUID]*EntityMetadata),
		embeddings: make(map[uuid.UUID][]Embedding),
	}
}

func pageKey(domainID uuid.UUID, url string) string {
	return domainID.String() + "/" + url
}

// GetPage returns the live page for (domainID, url).
func (s *MemoryStore) GetPage(ctx context.Context, domainID uuid.UUID, url string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pageByKey[pageKey(domainID, url)]
	if !ok {
		return nil, ErrNotFound
	}
	page := *s.pages[id]
	return &page, nil
}

// SavePage inserts or updates a page keyed by (domain_id, url).
func (s *MemoryStore) SavePage(ctx context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pageKey(page.DomainID, page.URL)
	now := time.Now()

	if existingID, ok := s.pageByKey[key]; ok {
		if page.ID == uuid.Nil {
			page.ID = existingID
		}
		page.CreatedAt = s.pages[existingID].CreatedAt
	} else {
		if page.ID == uuid.Nil {
			page.ID = uuid.New()
		}
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	stored := *page
	s.pages[page.ID] = &stored
	s.pageByKey[key] = page.ID
	return nil
}

// ListPages returns all pages for a domain, ordered by URL.
func (s *MemoryStore) ListPages(ctx context.Context, domainID uuid.UUID) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pages []*Page
	for _, p := range s.pages {
		if p.DomainID == domainID {
			page := *p
			pages = append(pages, &page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	return pages, nil
}

// ListStalePages returns ingested pages whose last ingest predates cutoff.
func (s *MemoryStore) ListStalePages(ctx context.Context, cutoff time.Time) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pages []*Page
	for _, p := range s.pages {
		if p.IngestStatus == IngestStatusIngested && p.LastIngestedAt.Before(cutoff) {
			page := *p
			pages = append(pages, &page)
		}
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].LastIngestedAt.Before(pages[j].LastIngestedAt)
	})
	return pages, nil
}

// ReplacePageChunks atomically swaps the chunk set for a page.
func (s *MemoryStore) ReplacePageChunks(ctx context.Context, pageID uuid.UUID, records []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[pageID]; !ok {
		return ErrNotFound
	}

	// Stage the new set before touching the old one.
	newIDs := make([]uuid.UUID, 0, len(records))
	newChunks := make(map[uuid.UUID]*Chunk, len(records))
	newMeta := make(map[uuid.UUID]*EntityMetadata, len(records))
	newEmb := make(map[uuid.UUID][]Embedding, len(records))
	now := time.Now()

	for i := range records {
		rec := records[i]
		c := rec.Chunk
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.PageID = pageID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		newIDs = append(newIDs, c.ID)
		newChunks[c.ID] = &c

		m := rec.Metadata
		m.ChunkID = c.ID
		m.DomainID = c.DomainID
		newMeta[c.ID] = &m

		embs := make([]Embedding, len(rec.Embeddings))
		for j, e := range rec.Embeddings {
			e.ChunkID = c.ID
			embs[j] = e
		}
		newEmb[c.ID] = embs
	}

	for _, oldID := range s.pageChunks[pageID] {
		delete(s.chunks, oldID)
		delete(s.metadata, oldID)
		delete(s.embeddings, oldID)
	}

	for id, c := range newChunks {
		s.chunks[id] = c
		s.metadata[id] = newMeta[id]
		s.embeddings[id] = newEmb[id]
	}
	s.pageChunks[pageID] = newIDs
	return nil
}

// ChunksByPage returns a page's chunks ordered by chunk index.
func (s *MemoryStore) ChunksByPage(ctx context.Context, pageID uuid.UUID) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.pageChunks[pageID]
	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			chunk := *c
			chunks = append(chunks, &chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// GetChunks resolves chunk IDs to chunks, skipping missing IDs.
func (s *MemoryStore) GetChunks(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			chunk := *c
			chunks = append(chunks, &chunk)
		}
	}
	return chunks, nil
}

// SearchChunks returns chunks in a domain containing at least one term.
func (s *MemoryStore) SearchChunks(ctx context.Context, domainID uuid.UUID, terms []string, limit int) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var matched []*Chunk
	for _, c := range s.chunks {
		if c.DomainID != domainID {
			continue
		}
		text := strings.ToLower(c.Text)
		for _, t := range lowered {
			if t != "" && strings.Contains(text, t) {
				chunk := *c
				matched = append(matched, &chunk)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PageID != matched[j].PageID {
			return matched[i].PageID.String() < matched[j].PageID.String()
		}
		return matched[i].ChunkIndex < matched[j].ChunkIndex
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// FindByIdentifier returns metadata rows whose identifier matches exactly.
func (s *MemoryStore) FindByIdentifier(ctx context.Context, domainID uuid.UUID, identifier string) ([]*EntityMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityMetadata
	for _, m := range s.metadata {
		if m.DomainID == domainID && m.Identifier != "" && m.Identifier == identifier {
			meta := *m
			out = append(out, &meta)
		}
	}
	return out, nil
}

// FindByNormalizedIdentifier matches on the separator-insensitive form.
func (s *MemoryStore) FindByNormalizedIdentifier(ctx context.Context, domainID uuid.UUID, normalized string) ([]*EntityMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityMetadata
	for _, m := range s.metadata {
		if m.DomainID == domainID && m.Identifier != "" && NormalizeIdentifier(m.Identifier) == normalized {
			meta := *m
			out = append(out, &meta)
		}
	}
	return out, nil
}

// FilterMetadata returns metadata rows in a domain satisfying the filter.
func (s *MemoryStore) FilterMetadata(ctx context.Context, domainID uuid.UUID, filter MetadataFilter) ([]*EntityMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityMetadata
	for _, m := range s.metadata {
		if m.DomainID != domainID {
			continue
		}
		if filter.Matches(m) {
			meta := *m
			out = append(out, &meta)
		}
	}
	return out, nil
}

// MetadataForChunks resolves chunk IDs to their metadata.
func (s *MemoryStore) MetadataForChunks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*EntityMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]*EntityMetadata, len(ids))
	for _, id := range ids {
		if m, ok := s.metadata[id]; ok {
			meta := *m
			out[id] = &meta
		}
	}
	return out, nil
}

// EmbeddingsByDomain returns all embeddings of the given kind for a domain.
func (s *MemoryStore) EmbeddingsByDomain(ctx context.Context, domainID uuid.UUID, kind EmbeddingKind) ([]Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Embedding
	for chunkID, embs := range s.embeddings {
		c, ok := s.chunks[chunkID]
		if !ok || c.DomainID != domainID {
			continue
		}
		for _, e := range embs {
			if e.Kind == kind {
				out = append(out, e)
			}
		}
	}
	return out, nil
}
