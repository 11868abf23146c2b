package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/storage"
)

// catalogFetcher serves a fixed number of records per entity and records
// the queries it was asked to run.
type catalogFetcher struct {
	mu         sync.Mutex
	perEntity  int
	queries    map[string][]string
	failEntity string
}

func newCatalogFetcher(perEntity int) *catalogFetcher {
	return &catalogFetcher{
		perEntity: perEntity,
		queries:   make(map[string][]string),
	}
}

func (f *catalogFetcher) FetchPage(ctx context.Context, entity igdb.Entity, query string, offset int) (igdb.Page, error) {
	f.mu.Lock()
	f.queries[entity.Name] = append(f.queries[entity.Name], query)
	f.mu.Unlock()

	if entity.Name == f.failEntity {
		return igdb.Page{}, errors.New("simulated fetch failure")
	}

	if offset >= f.perEntity {
		return igdb.Page{Offset: offset}, nil
	}
	end := offset + entity.EffectivePageLimit()
	if end > f.perEntity {
		end = f.perEntity
	}
	records := make([]igdb.Record, 0, end-offset)
	for id := offset + 1; id <= end; id++ {
		records = append(records, igdb.Record{"id": id})
	}
	return igdb.Page{Offset: offset, Records: records}, nil
}

// lastQueryFor returns the query of the entity's most recent run.
func (f *catalogFetcher) lastQueryFor(entity string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	qs := f.queries[entity]
	if len(qs) == 0 {
		return ""
	}
	return qs[len(qs)-1]
}

type memState struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func newMemState() *memState {
	return &memState{m: make(map[string]time.Time)}
}

func (s *memState) LastRunTime(ctx context.Context, entity string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.m[entity]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *memState) SaveLastRunTime(ctx context.Context, entity string, runTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[entity] = runTime
	return nil
}

func (s *memState) Reset(ctx context.Context, entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, entity)
	return nil
}

func (s *memState) States(ctx context.Context) (map[string]*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*time.Time, len(s.m))
	for k, v := range s.m {
		t := v
		out[k] = &t
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, fetcher *catalogFetcher) (*Orchestrator, *storage.MemoryStore, *memState) {
	t.Helper()
	store := storage.NewMemoryStore()
	state := newMemState()
	o, err := New(Config{
		Fetcher:   fetcher,
		Loader:    storage.NewJSONLLoader(store),
		Store:     store,
		State:     state,
		BatchSize: 100,
		WaveSize:  4,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, store, state
}

func resultFor(t *testing.T, results []Result, entity string) Result {
	t.Helper()
	for _, r := range results {
		if r.Entity == entity {
			return r
		}
	}
	t.Fatalf("no result for entity %s in %v", entity, results)
	return Result{}
}

func TestRunFullThenIncremental(t *testing.T) {
	fetcher := newCatalogFetcher(3)
	o, _, _ := newTestOrchestrator(t, fetcher)
	ctx := context.Background()

	results, err := o.Run(ctx, RunOptions{Date: "2025-01-15"})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(results) != len(igdb.Catalog()) {
		t.Fatalf("got %d results, want %d", len(results), len(igdb.Catalog()))
	}
	for _, r := range results {
		if r.Mode != ModeFull {
			t.Errorf("first run of %s mode = %s, want full", r.Entity, r.Mode)
		}
		if r.Records != 3 {
			t.Errorf("%s records = %d, want 3", r.Entity, r.Records)
		}
	}

	// Second run: games goes incremental, dimensions and popscore stay full.
	results, err = o.Run(ctx, RunOptions{Date: "2025-01-16"})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := resultFor(t, results, "games").Mode; got != ModeIncremental {
		t.Errorf("games second run mode = %s, want incremental", got)
	}
	if got := resultFor(t, results, "platforms").Mode; got != ModeFull {
		t.Errorf("platforms second run mode = %s, want full", got)
	}
	if got := resultFor(t, results, "popscore").Mode; got != ModeFull {
		t.Errorf("popscore second run mode = %s, want full", got)
	}

	if query := fetcher.lastQueryFor("games"); !strings.Contains(query, "updated_at") {
		t.Errorf("incremental games query missing cutoff: %q", query)
	}
	if query := fetcher.lastQueryFor("platforms"); strings.Contains(query, "updated_at") {
		t.Errorf("platforms query unexpectedly incremental: %q", query)
	}
}

func TestRunFullRefreshForcesFullMode(t *testing.T) {
	fetcher := newCatalogFetcher(2)
	o, _, state := newTestOrchestrator(t, fetcher)
	ctx := context.Background()

	watermark := time.Now().UTC().Add(-24 * time.Hour)
	if err := state.SaveLastRunTime(ctx, "games", watermark); err != nil {
		t.Fatal(err)
	}

	results, err := o.Run(ctx, RunOptions{Date: "2025-01-15", FullRefresh: true, Entities: []string{"games"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results[0].Mode != ModeFull {
		t.Errorf("full refresh mode = %s, want full", results[0].Mode)
	}
}

func TestEntityFailureDoesNotAbortSiblings(t *testing.T) {
	fetcher := newCatalogFetcher(2)
	fetcher.failEntity = "platforms"
	o, _, state := newTestOrchestrator(t, fetcher)
	ctx := context.Background()

	results, err := o.Run(ctx, RunOptions{Date: "2025-01-15"})
	if err == nil {
		t.Fatal("expected joined error for failed entity")
	}
	if !strings.Contains(err.Error(), "platforms") {
		t.Errorf("error does not name failed entity: %v", err)
	}

	if len(results) != len(igdb.Catalog()) {
		t.Fatalf("siblings aborted: got %d results, want %d", len(results), len(igdb.Catalog()))
	}
	if resultFor(t, results, "platforms").Err == nil {
		t.Error("platforms result has no error")
	}
	if resultFor(t, results, "games").Err != nil {
		t.Errorf("games failed too: %v", resultFor(t, results, "games").Err)
	}

	// The failed entity's watermark must not advance; successful siblings' do.
	if wm, _ := state.LastRunTime(ctx, "platforms"); wm != nil {
		t.Error("watermark advanced for failed entity")
	}
	if wm, _ := state.LastRunTime(ctx, "games"); wm == nil {
		t.Error("watermark missing for successful entity")
	}
}

func TestTimeSeriesStagingAndPromote(t *testing.T) {
	fetcher := newCatalogFetcher(5)
	o, store, _ := newTestOrchestrator(t, fetcher)
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		if _, err := o.Run(ctx, RunOptions{Date: "2025-01-15", Entities: []string{"popscore"}}); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	keys, err := store.List(ctx, "raw/popscore/dt=2025-01-15/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	// Rerunning the same partition converges: one batch file, one manifest,
	// no staging leftovers.
	var dataKeys []string
	for _, key := range keys {
		if strings.Contains(key, "_staging_") {
			t.Errorf("staging leftover: %s", key)
		}
		if !strings.HasSuffix(key, "/"+storage.ManifestName) {
			dataKeys = append(dataKeys, key)
		}
	}
	if len(dataKeys) != 1 || dataKeys[0] != "raw/popscore/dt=2025-01-15/batch-0.jsonl" {
		t.Errorf("data keys after rerun = %v, want single batch-0.jsonl", dataKeys)
	}

	tags, err := store.Tags(ctx, dataKeys[0])
	if err != nil {
		t.Fatalf("tags failed: %v", err)
	}
	if tags[storage.TagStatus] != storage.StatusFinal {
		t.Errorf("promoted file status = %q, want final", tags[storage.TagStatus])
	}

	// The manifest reflects only the latest run, not the sum of reruns.
	manifest, err := storage.ReadManifest(ctx, store, "raw/popscore/dt=2025-01-15")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if manifest.TotalCount != 5 || manifest.BatchCount != 1 {
		t.Errorf("manifest after rerun = %+v", manifest)
	}
}

func TestFullRefreshOutdatesPriorSnapshotFiles(t *testing.T) {
	fetcher := newCatalogFetcher(4)
	o, store, _ := newTestOrchestrator(t, fetcher)
	ctx := context.Background()

	if _, err := o.Run(ctx, RunOptions{Date: "2025-01-15", Entities: []string{"platforms"}}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	firstFinals, err := storage.ListWithTag(ctx, store, "raw/dimensions/platforms/", storage.TagStatus, storage.StatusFinal)
	if err != nil || len(firstFinals) == 0 {
		t.Fatalf("no final files after first run: %v %v", firstFinals, err)
	}

	if _, err := o.Run(ctx, RunOptions{Date: "2025-01-16", FullRefresh: true, Entities: []string{"platforms"}}); err != nil {
		t.Fatalf("full refresh failed: %v", err)
	}

	for _, key := range firstFinals {
		tags, err := store.Tags(ctx, key)
		if err != nil {
			t.Fatalf("tags %s: %v", key, err)
		}
		if tags[storage.TagStatus] != storage.StatusOutdated {
			t.Errorf("prior file %s status = %q, want outdated", key, tags[storage.TagStatus])
		}
	}

	finals, err := storage.ListWithTag(ctx, store, "raw/dimensions/platforms/", storage.TagStatus, storage.StatusFinal)
	if err != nil {
		t.Fatalf("ListWithTag failed: %v", err)
	}
	if len(finals) != 1 {
		t.Errorf("final files after refresh = %v, want exactly the new batch", finals)
	}

	manifest, err := storage.ReadManifest(ctx, store, "raw/dimensions/platforms")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if manifest.TotalCount != 4 || manifest.BatchCount != 1 {
		t.Errorf("refreshed manifest = %+v", manifest)
	}
}

func TestRunUnknownEntityRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newCatalogFetcher(1))

	_, err := o.Run(context.Background(), RunOptions{Entities: []string{"does-not-exist"}})
	if err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestRunSubsetKeepsCatalogOrder(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newCatalogFetcher(1))

	results, err := o.Run(context.Background(), RunOptions{
		Date:     "2025-01-15",
		Entities: []string{"games", "platforms"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Entity != "platforms" || results[1].Entity != "games" {
		t.Errorf("run order = [%s %s], want [platforms games]", results[0].Entity, results[1].Entity)
	}
}
