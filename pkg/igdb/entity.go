package igdb

import "time"

// Kind describes how an entity's snapshots are managed downstream.
type Kind string

const (
	// KindDimension entities are extracted as a full snapshot each run.
	KindDimension Kind = "dimension"

	// KindFact entities support incremental extraction via a watermark.
	KindFact Kind = "fact"

	// KindTimeSeries entities append a daily partition whose current day is
	// idempotently replaceable; historical partitions are preserved.
	KindTimeSeries Kind = "time_series"
)

// Default query fragments. Where clauses for incremental extraction are
// appended at query-build time.
const (
	defaultBaseQuery        = "fields *; sort id asc;"
	defaultIncrementalQuery = "fields *;"

	// DefaultPageLimit is IGDB's maximum page size.
	DefaultPageLimit = 500

	// DefaultSafetyMargin is subtracted from the watermark for incremental
	// queries to tolerate clock skew between producer and consumer. Duplicates
	// it admits are deduplicated downstream; missed rows would not be.
	DefaultSafetyMargin = 5 * time.Minute
)

// Entity describes one IGDB resource consumed by the pipeline. Entities are
// statically configured and immutable at run time.
type Entity struct {
	// Name is the pipeline-facing entity name (also the partition prefix).
	Name string

	// Endpoint is the IGDB API path segment (e.g. "games").
	Endpoint string

	// PageLimit is the page size requested per fetch.
	PageLimit int

	// BaseQuery is the Apicalypse query for full scans.
	BaseQuery string

	// IncrementalQuery is the Apicalypse query stem for incremental scans;
	// the where/sort clauses are appended from the watermark.
	IncrementalQuery string

	// Kind selects snapshot, incremental or time-series handling.
	Kind Kind

	// SafetyMargin overrides DefaultSafetyMargin when non-zero.
	SafetyMargin time.Duration
}

// IsTimeSeries reports whether the entity uses the staged replace protocol.
func (e Entity) IsTimeSeries() bool {
	return e.Kind == KindTimeSeries
}

// SupportsIncremental reports whether the entity can be extracted from a
// watermark. Dimensions are always full snapshots; time-series entities are
// always rebuilt for the current partition.
func (e Entity) SupportsIncremental() bool {
	return e.Kind == KindFact
}

// EffectiveSafetyMargin returns the configured or default safety margin.
func (e Entity) EffectiveSafetyMargin() time.Duration {
	if e.SafetyMargin > 0 {
		return e.SafetyMargin
	}
	return DefaultSafetyMargin
}

// EffectivePageLimit returns the configured or default page limit.
func (e Entity) EffectivePageLimit() int {
	if e.PageLimit > 0 {
		return e.PageLimit
	}
	return DefaultPageLimit
}

// newEntity fills in defaults shared by the catalog entries.
func newEntity(name, endpoint string, kind Kind) Entity {
	return Entity{
		Name:             name,
		Endpoint:         endpoint,
		PageLimit:        DefaultPageLimit,
		BaseQuery:        defaultBaseQuery,
		IncrementalQuery: defaultIncrementalQuery,
		Kind:             kind,
	}
}

// Catalog returns the entities this deployment extracts, in execution order:
// dimensions first, the games fact table last so its foreign keys resolve.
func Catalog() []Entity {
	return []Entity{
		newEntity("platforms", "platforms", KindDimension),
		newEntity("genres", "genres", KindDimension),
		newEntity("game_modes", "game_modes", KindDimension),
		newEntity("themes", "themes", KindDimension),
		newEntity("player_perspectives", "player_perspectives", KindDimension),
		newEntity("popularity_types", "popularity_types", KindDimension),
		newEntity("popscore", "popularity_primitives", KindTimeSeries),
		newEntity("games", "games", KindFact),
	}
}

// LookupEntity finds a catalog entity by name.
func LookupEntity(name string) (Entity, bool) {
	for _, e := range Catalog() {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
