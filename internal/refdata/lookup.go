// Package refdata answers ICD-10-CM reference queries from the local code
// table, with an in-memory cache in front and an importer for the CMS order
// file.
package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/store"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 10

// Lookup is the read side of the reference data.
type Lookup interface {
	Search(ctx context.Context, query string, billableOnly bool, limit int) ([]domain.ReferenceCode, error)
	Get(ctx context.Context, code string) (*domain.ReferenceCode, error)
}

// SQLLookup serves reference queries from the SQLite code table.
type SQLLookup struct {
	DB   *sql.DB
	Repo *store.CodeRepo
}

// NewSQLLookup creates a lookup over db.
func NewSQLLookup(db *sql.DB) *SQLLookup {
	return &SQLLookup{DB: db, Repo: &store.CodeRepo{}}
}

// Search returns codes matching query.
func (l *SQLLookup) Search(ctx context.Context, query string, billableOnly bool, limit int) ([]domain.ReferenceCode, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	codes, err := l.Repo.Search(ctx, l.DB, query, billableOnly, limit)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "search reference codes", err)
	}
	return codes, nil
}

// Get returns one code in dotted or undotted form.
func (l *SQLLookup) Get(ctx context.Context, code string) (*domain.ReferenceCode, error) {
	c, err := l.Repo.Get(ctx, l.DB, code)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return nil, err
		}
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "lookup reference code", err)
	}
	return c, nil
}

// CachedLookup memoizes successful answers of another Lookup.
type CachedLookup struct {
	next  Lookup
	cache *gocache.Cache
}

// NewCachedLookup wraps next with a cache whose entries live for ttl.
func NewCachedLookup(next Lookup, ttl time.Duration) *CachedLookup {
	return &CachedLookup{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Search returns cached results for the same query, filter and limit.
func (c *CachedLookup) Search(ctx context.Context, query string, billableOnly bool, limit int) ([]domain.ReferenceCode, error) {
	key := fmt.Sprintf("search|%t|%d|%s", billableOnly, limit, strings.ToLower(strings.TrimSpace(query)))
	if v, found := c.cache.Get(key); found {
		return v.([]domain.ReferenceCode), nil
	}
	codes, err := c.next.Search(ctx, query, billableOnly, limit)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, codes)
	return codes, nil
}

// Get returns a cached code. Misses are not cached.
func (c *CachedLookup) Get(ctx context.Context, code string) (*domain.ReferenceCode, error) {
	key := "code|" + store.NormalizeCode(code)
	if v, found := c.cache.Get(key); found {
		rc := v.(domain.ReferenceCode)
		return &rc, nil
	}
	rc, err := c.next.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *rc)
	return rc, nil
}

// Flush drops every cached answer, typically after an import.
func (c *CachedLookup) Flush() {
	c.cache.Flush()
}
