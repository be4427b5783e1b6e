// Package taxonomy implements the O(1) taxonomy code registry (spec
// §4.1): an immutable-at-runtime lookup from code to domain/service-item/
// billing-component/unit-model/label, loaded once per process from the
// canonical Seed list.
package taxonomy

import (
	"sort"
	"strings"
	"sync"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
)

// Registry is a read-mostly, process-global lookup. It is safe for
// concurrent reads; Reload acquires a write lock so a live process can
// pick up administrative updates without restarting.
type Registry struct {
	mu      sync.RWMutex
	byCode  map[string]domain.TaxonomyItem
	byDomain map[string][]string // domain -> sorted codes
}

// NewRegistry builds a registry from items, indexing by code and domain.
func NewRegistry(items []domain.TaxonomyItem) *Registry {
	r := &Registry{}
	r.load(items)
	return r
}

// NewDefaultRegistry builds a registry from the canonical Seed list.
func NewDefaultRegistry() *Registry {
	return NewRegistry(Seed)
}

func (r *Registry) load(items []domain.TaxonomyItem) {
	byCode := make(map[string]domain.TaxonomyItem, len(items))
	byDomain := make(map[string][]string)
	for _, item := range items {
		byCode[item.Code] = item
		byDomain[item.Domain] = append(byDomain[item.Domain], item.Code)
	}
	for d := range byDomain {
		sort.Strings(byDomain[d])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode = byCode
	r.byDomain = byDomain
}

// Reload replaces the registry's contents, invalidating the prior cache.
// Per spec §5, the taxonomy registry is read-mostly with explicit
// reinitialization on change, not implicit hot-reload.
func (r *Registry) Reload(items []domain.TaxonomyItem) {
	r.load(items)
}

// Lookup returns the TaxonomyItem for code, or a typed not-found error.
func (r *Registry) Lookup(code string) (domain.TaxonomyItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.byCode[code]
	if !ok {
		return domain.TaxonomyItem{}, apperrors.NotFound("taxonomy code", code)
	}
	return item, nil
}

// Exists reports whether code is a known taxonomy code, without the
// error-allocation cost of Lookup.
func (r *Registry) Exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCode[code]
	return ok
}

// ByDomain returns every taxonomy item in domain d, sorted by code.
func (r *Registry) ByDomain(d string) []domain.TaxonomyItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := r.byDomain[d]
	items := make([]domain.TaxonomyItem, 0, len(codes))
	for _, c := range codes {
		items = append(items, r.byCode[c])
	}
	return items
}

// DomainOf returns the first dot-segment of a taxonomy code, used by the
// guideline validator's domain-level applicability rule (spec §4.5).
func DomainOf(code string) string {
	if idx := strings.IndexByte(code, '.'); idx >= 0 {
		return code[:idx]
	}
	return code
}

// All returns every item in the registry, in no particular order.
func (r *Registry) All() []domain.TaxonomyItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]domain.TaxonomyItem, 0, len(r.byCode))
	for _, item := range r.byCode {
		items = append(items, item)
	}
	return items
}
