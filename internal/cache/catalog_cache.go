package cache

import (
	"time"

	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
)

const (
	defaultFilterTTL  = 10 * time.Minute
	defaultPersonaTTL = 10 * time.Minute
)

const (
	filtersKey  = "filters"
	personasKey = "personas"
)

// CatalogCache stores the two seeded, rarely-changing catalogs the
// read endpoints hit on every app launch: the filter shop and the
// persona decks. Admin catalog mutations call InvalidateFilters so the
// next read refetches.
type CatalogCache interface {
	GetFilters() ([]shopdomain.Filter, bool)
	SetFilters(filters []shopdomain.Filter)
	InvalidateFilters()
	GetPersonas() ([]personadomain.Persona, bool)
	SetPersonas(personas []personadomain.Persona)
}

type catalogCache struct {
	filters    Cache[string, []shopdomain.Filter]
	personas   Cache[string, []personadomain.Persona]
	filterTTL  time.Duration
	personaTTL time.Duration
}

// NewCatalogCache returns an in-memory catalog cache with default TTLs.
func NewCatalogCache() CatalogCache {
	return &catalogCache{
		filters:    NewTTLCache[string, []shopdomain.Filter](),
		personas:   NewTTLCache[string, []personadomain.Persona](),
		filterTTL:  defaultFilterTTL,
		personaTTL: defaultPersonaTTL,
	}
}

func (c *catalogCache) GetFilters() ([]shopdomain.Filter, bool) {
	return c.filters.Get(filtersKey)
}

func (c *catalogCache) SetFilters(filters []shopdomain.Filter) {
	c.filters.Set(filtersKey, filters, c.filterTTL)
}

func (c *catalogCache) InvalidateFilters() {
	c.filters.Delete(filtersKey)
}

func (c *catalogCache) GetPersonas() ([]personadomain.Persona, bool) {
	return c.personas.Get(personasKey)
}

func (c *catalogCache) SetPersonas(personas []personadomain.Persona) {
	c.personas.Set(personasKey, personas, c.personaTTL)
}
