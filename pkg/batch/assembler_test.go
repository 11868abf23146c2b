package batch

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/gamelake/igdb-pipeline/pkg/extract"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
)

// stubFetcher serves n records through the real extractor so tests exercise
// the stream contract end to end.
type stubFetcher struct {
	n      int
	failAt int // offset that fails, -1 for none
}

func (s *stubFetcher) FetchPage(ctx context.Context, entity igdb.Entity, query string, offset int) (igdb.Page, error) {
	if s.failAt >= 0 && offset == s.failAt {
		return igdb.Page{}, errors.New("fetch failed")
	}
	limit := entity.EffectivePageLimit()
	if offset >= s.n {
		return igdb.Page{Offset: offset}, nil
	}
	end := offset + limit
	if end > s.n {
		end = s.n
	}
	records := make([]igdb.Record, 0, end-offset)
	for id := offset + 1; id <= end; id++ {
		records = append(records, igdb.Record{"id": id})
	}
	return igdb.Page{Offset: offset, Records: records}, nil
}

type recordingLoader struct {
	mu      sync.Mutex
	keys    []string
	sizes   []int
	failKey int // 0-based Load call that fails, -1 for none
}

func newRecordingLoader() *recordingLoader {
	return &recordingLoader{failKey: -1}
}

func (l *recordingLoader) Load(ctx context.Context, key string, records []igdb.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failKey >= 0 && len(l.keys) == l.failKey {
		return errors.New("upload failed")
	}
	l.keys = append(l.keys, key)
	l.sizes = append(l.sizes, len(records))
	return nil
}

func streamOf(t *testing.T, entityName string, fetcher extract.PageFetcher, limit int) (*extract.Stream, igdb.Entity) {
	t.Helper()
	entity, ok := igdb.LookupEntity(entityName)
	if !ok {
		t.Fatalf("entity %s not in catalog", entityName)
	}
	entity.PageLimit = limit
	return extract.New(fetcher, entity).Extract(context.Background(), nil), entity
}

func TestProcessSplitsIntoBatches(t *testing.T) {
	loader := newRecordingLoader()
	stream, entity := streamOf(t, "platforms", &stubFetcher{n: 7, failAt: -1}, 10)

	result, err := New(loader, 3).Process(context.Background(), stream, entity, "raw/dimensions/platforms")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.TotalCount != 7 {
		t.Errorf("TotalCount = %d, want 7", result.TotalCount)
	}
	if result.BatchCount != 3 {
		t.Errorf("BatchCount = %d, want 3", result.BatchCount)
	}
	if len(result.Keys) != 3 {
		t.Fatalf("Keys = %v, want 3 entries", result.Keys)
	}

	wantSizes := []int{3, 3, 1}
	for i, size := range loader.sizes {
		if size != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, size, wantSizes[i])
		}
	}
}

func TestProcessExactMultipleHasNoRemainder(t *testing.T) {
	loader := newRecordingLoader()
	stream, entity := streamOf(t, "platforms", &stubFetcher{n: 6, failAt: -1}, 10)

	result, err := New(loader, 3).Process(context.Background(), stream, entity, "p")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.BatchCount != 2 {
		t.Errorf("BatchCount = %d, want 2", result.BatchCount)
	}
}

func TestProcessEmptyStream(t *testing.T) {
	loader := newRecordingLoader()
	stream, entity := streamOf(t, "platforms", &stubFetcher{n: 0, failAt: -1}, 10)

	result, err := New(loader, 3).Process(context.Background(), stream, entity, "p")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.TotalCount != 0 || result.BatchCount != 0 || len(result.Keys) != 0 {
		t.Errorf("empty stream produced %+v", result)
	}
	if len(loader.keys) != 0 {
		t.Errorf("loader called %d times on empty stream", len(loader.keys))
	}
}

func TestProcessLoaderErrorAborts(t *testing.T) {
	loader := newRecordingLoader()
	loader.failKey = 1
	stream, entity := streamOf(t, "platforms", &stubFetcher{n: 9, failAt: -1}, 10)

	result, err := New(loader, 3).Process(context.Background(), stream, entity, "p")
	if err == nil {
		t.Fatal("expected loader error")
	}
	if result.BatchCount != 1 {
		t.Errorf("BatchCount = %d, want 1 (only the batch before the failure)", result.BatchCount)
	}
}

func TestProcessStreamErrorSurfaces(t *testing.T) {
	loader := newRecordingLoader()
	// Page at offset 10 fails: 10 records arrive, then the stream errors.
	stream, entity := streamOf(t, "platforms", &stubFetcher{n: 100, failAt: 10}, 10)

	result, err := New(loader, 4).Process(context.Background(), stream, entity, "p")
	if err == nil {
		t.Fatal("expected stream error")
	}
	if result.TotalCount != 10 {
		t.Errorf("TotalCount = %d, want 10", result.TotalCount)
	}

	// Two full batches of 4 were flushed; the open batch of 2 was not.
	if len(loader.keys) != 2 {
		t.Errorf("loader called %d times, want 2 (no remainder flush after stream error)", len(loader.keys))
	}
}

func TestBatchKeyNaming(t *testing.T) {
	snapshot, _ := igdb.LookupEntity("games")
	timeSeries, _ := igdb.LookupEntity("popscore")

	tsKey := BatchKey("raw/popscore/dt=2025-01-15", 2, timeSeries)
	if tsKey != "raw/popscore/dt=2025-01-15/batch-2.jsonl" {
		t.Errorf("time-series key = %q", tsKey)
	}

	snapKey := BatchKey("raw/games/dt=2025-01-15", 0, snapshot)
	pattern := regexp.MustCompile(`^raw/games/dt=2025-01-15/batch-0-[0-9a-f-]{36}\.jsonl$`)
	if !pattern.MatchString(snapKey) {
		t.Errorf("snapshot key = %q, want batch-0-<uuid>.jsonl", snapKey)
	}

	if other := BatchKey("raw/games/dt=2025-01-15", 0, snapshot); other == snapKey {
		t.Error("snapshot keys for separate runs must differ")
	}
}
