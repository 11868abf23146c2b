package extract

import (
	"context"
	"sync"

	"github.com/gamelake/igdb-pipeline/pkg/igdb"
)

// Stream is a lazy, finite, single-pass record sequence produced by an
// extraction run. Consumers range over Records() until it closes, then check
// Err(). A stream is not restartable; abandon it with Close().
type Stream struct {
	records chan igdb.Record
	cancel  context.CancelFunc

	mu        sync.Mutex
	err       error
	abandoned bool
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		records: make(chan igdb.Record),
		cancel:  cancel,
	}
}

// Records returns the record channel. It is closed when the stream is
// exhausted, failed or abandoned.
func (s *Stream) Records() <-chan igdb.Record {
	return s.records
}

// Err returns the error that terminated the stream, if any. Only valid
// after Records() has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream: in-flight fetches of the current wave are
// cancelled and no further waves start. Safe to call multiple times and
// after exhaustion.
func (s *Stream) Close() {
	s.mu.Lock()
	s.abandoned = true
	s.mu.Unlock()
	s.cancel()
}

// fail records the terminal error unless the consumer abandoned the stream.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned || s.err != nil {
		return
	}
	s.err = err
}

// Drain consumes the remaining records into a slice and returns the
// stream's terminal error. Intended for tests and small extractions.
func (s *Stream) Drain() ([]igdb.Record, error) {
	var out []igdb.Record
	for rec := range s.Records() {
		out = append(out, rec)
	}
	return out, s.Err()
}
