// Package testutil provides testing utilities for the IGDB pipeline.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
)

var (
	limitRe  = regexp.MustCompile(`limit (\d+);`)
	offsetRe = regexp.MustCompile(`offset (\d+);`)
)

// PageRequest records one request seen by the mock server.
type PageRequest struct {
	Endpoint string
	Query    string
	Limit    int
	Offset   int
}

// failure describes an injected failure for an endpoint/offset pair.
type failure struct {
	status    int
	remaining int // -1 means fail forever
}

// MockIGDB is a configurable mock IGDB API server. It serves configured
// datasets page-by-page from the limit/offset clauses of the Apicalypse
// query body, exactly like the real API's pagination.
type MockIGDB struct {
	server *httptest.Server

	mu       sync.Mutex
	datasets map[string][]map[string]any
	failures map[string]map[int]*failure
	handlers map[string]http.HandlerFunc

	// Tracking
	Requests    []PageRequest
	AuthHeaders []string
}

// NewMockIGDB creates a new mock IGDB server.
func NewMockIGDB() *MockIGDB {
	mock := &MockIGDB{
		datasets: make(map[string][]map[string]any),
		failures: make(map[string]map[int]*failure),
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))

	return mock
}

// URL returns the mock server URL, usable as the client's BaseURL.
func (m *MockIGDB) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockIGDB) Close() {
	m.server.Close()
}

// SetDataset configures the full record set served by an endpoint.
func (m *MockIGDB) SetDataset(endpoint string, records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[endpoint] = records
}

// FailAt injects times failures with the given status for requests hitting
// the endpoint at the given offset. times < 0 fails every request.
func (m *MockIGDB) FailAt(endpoint string, offset, status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[endpoint] == nil {
		m.failures[endpoint] = make(map[int]*failure)
	}
	m.failures[endpoint][offset] = &failure{status: status, remaining: times}
}

// SetHandler overrides the handler for an endpoint entirely.
func (m *MockIGDB) SetHandler(endpoint string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = handler
}

// RequestCount returns the number of requests made to the server.
func (m *MockIGDB) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// RequestsFor returns the recorded requests for one endpoint.
func (m *MockIGDB) RequestsFor(endpoint string) []PageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PageRequest
	for _, r := range m.Requests {
		if r.Endpoint == endpoint {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockIGDB) handle(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[1:] // strip leading "/"

	body, _ := io.ReadAll(r.Body)
	query := string(body)

	limit := parseClause(limitRe, query, 500)
	offset := parseClause(offsetRe, query, 0)

	m.mu.Lock()
	m.Requests = append(m.Requests, PageRequest{
		Endpoint: endpoint,
		Query:    query,
		Limit:    limit,
		Offset:   offset,
	})
	m.AuthHeaders = append(m.AuthHeaders, r.Header.Get("Authorization"))

	if custom, ok := m.handlers[endpoint]; ok {
		m.mu.Unlock()
		custom(w, r)
		return
	}

	if f := m.failures[endpoint][offset]; f != nil && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		status := f.status
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"message": "injected failure"}`))
		return
	}

	records := m.datasets[endpoint]
	m.mu.Unlock()

	page := slicePage(records, offset, limit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(page)
}

// slicePage cuts one page out of the dataset; past-the-end offsets return
// an empty page, the API's end-of-data signal.
func slicePage(records []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(records) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

func parseClause(re *regexp.Regexp, query string, fallback int) int {
	match := re.FindStringSubmatch(query)
	if match == nil {
		return fallback
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return fallback
	}
	return n
}

// GenerateRecords builds n sequential records with ascending ids, for
// pagination tests.
func GenerateRecords(n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		records[i] = map[string]any{
			"id":   float64(i + 1),
			"name": "record-" + strconv.Itoa(i+1),
		}
	}
	return records
}
