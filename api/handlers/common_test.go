// Common test helpers
package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/contentdb"
	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/document"
	"github.com/meghashyamc/presssync/services/facets"
	"github.com/meghashyamc/presssync/services/health"
	"github.com/meghashyamc/presssync/services/index"
	"github.com/meghashyamc/presssync/services/search"
	"github.com/meghashyamc/presssync/validation"
	"github.com/stretchr/testify/require"
)

type testCase struct {
	name             string
	requestHeaders   map[string]string
	queryParams      map[string]string
	expectedStatus   int
	expectedResponse map[string]any
}

type testServer struct {
	router   *gin.Engine
	engine   *fakeEngine
	store    *contentdb.SQLite
	settings *kvdb.Settings
	monitor  *health.Monitor
	index    *index.Service
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

// fakeEngine answers the handful of engine endpoints the handlers reach.
type fakeEngine struct {
	mu            sync.Mutex
	clusterStatus string
	indexed       []string
	deleted       []string
	searches      []string
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/_cluster/health":
		if f.clusterStatus == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"type":"master_not_discovered_exception"},"status":503}`))
			return
		}
		fmt.Fprintf(w, `{"cluster_name":"test","status":%q,"number_of_nodes":1}`, f.clusterStatus)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_bulk"):
		w.Write(f.bulkResponse(body))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_search"):
		f.searches = append(f.searches, string(body))
		w.Write([]byte(testSearchResponse))
	case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/_doc/"):
		f.deleted = append(f.deleted, filepath.Base(r.URL.Path))
		w.Write([]byte(`{"result":"deleted"}`))
	default:
		w.Write([]byte(`{"acknowledged":true}`))
	}
}

func (f *fakeEngine) bulkResponse(body []byte) []byte {
	var items []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var action struct {
			Index *struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil || action.Index == nil {
			continue
		}
		f.indexed = append(f.indexed, action.Index.ID)
		items = append(items, map[string]any{"index": map[string]any{"_id": action.Index.ID, "status": http.StatusCreated, "result": "created"}})
	}
	response, _ := json.Marshal(map[string]any{"took": 1, "errors": false, "items": items})
	return response
}

func (f *fakeEngine) setClusterStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusterStatus = status
}

func (f *fakeEngine) indexedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func (f *fakeEngine) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeEngine) searchBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searches...)
}

func setupTestServer(t *testing.T, assert *require.Assertions) *testServer {
	ctx := t.Context()
	testLogger := newTestLogger()
	m := metrics.New()

	engine := &fakeEngine{clusterStatus: "green"}
	engineServer := httptest.NewServer(engine)
	t.Cleanup(engineServer.Close)

	searchDB, err := searchdb.NewWithOptions(testLogger, m, searchdb.Options{
		Addresses: []string{engineServer.URL},
		Index:     "posts",
	})
	assert.NoError(err, "could not create search database")

	store, err := contentdb.OpenSQLite(ctx, testLogger, "file::memory:", []string{"post", "page"})
	assert.NoError(err, "could not open content store")
	t.Cleanup(func() { store.Close() })
	for _, record := range testPosts {
		assert.NoError(store.SavePost(ctx, record), "could not save test post")
	}

	kvDB, err := kvdb.Open(testLogger, filepath.Join(t.TempDir(), "state.db"))
	assert.NoError(err, "could not create kv database")
	t.Cleanup(func() { kvDB.Close() })
	settings := kvdb.NewSettings(kvDB)

	registry := content.DefaultRegistry()
	mapper := document.New(testLogger, store, registry, nil, nil, document.Options{
		TokenLimit:   1024,
		StringLimit:  10000,
		PostTypes:    []string{"post", "page"},
		PostStatuses: []string{content.StatusPublish},
	})
	indexService := index.New(testLogger, store, mapper, searchDB, index.NewKVStateStore(kvDB), settings, m, 2)

	monitor := health.New(testLogger, searchDB, kvDB, settings, m, health.Options{
		Interval:          5 * time.Minute,
		IncreaseInterval:  time.Minute,
		AlertThreshold:    8 * time.Minute,
		ShutdownThreshold: 15 * time.Minute,
		StaleThreshold:    10 * time.Minute,
	})
	resolver := facets.New(testLogger, registry, store)
	searchService := search.New(testLogger, searchDB, settings, monitor, resolver, m, search.Defaults{PerPage: 10, FacetCount: 5})

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")

	gin.SetMode(gin.TestMode)
	router := gin.New()

	SetupIndex(router, testLogger, indexService)
	SetupEngine(router, testLogger, monitor)
	SetupSearch(router, testLogger, searchService, registry, validator)

	return &testServer{
		router:   router,
		engine:   engine,
		store:    store,
		settings: settings,
		monitor:  monitor,
		index:    indexService,
	}
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, queryParams map[string]string) *httptest.ResponseRecorder {

	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		endpoint = endpoint + "?"
		for key, value := range queryParams {
			if endpoint[len(endpoint)-1] != '?' {
				endpoint = endpoint + "&"
			}
			endpoint = endpoint + key + "=" + value
		}
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers)

	req, err := http.NewRequest(method, endpoint, nil)
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

func decodeResponse(assert *require.Assertions, w *httptest.ResponseRecorder) map[string]any {
	var responseMap map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &responseMap)
	assert.NoError(err, fmt.Sprintf("could not decode response %s", w.Body.String()))
	return responseMap
}
