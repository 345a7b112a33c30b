package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant is a minimal in-memory stand-in for the qdrant REST API.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]map[string]json.RawMessage // collection -> point id -> raw point
	searchBody  string                                // canned response for search
	failSearch  bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: map[string]bool{},
		points:      map[string]map[string]json.RawMessage{},
	}
}

func (f *fakeQdrant) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		collection := strings.TrimPrefix(r.URL.Path, "/collections/")
		rest := ""
		if i := strings.Index(collection, "/"); i >= 0 {
			collection, rest = collection[:i], collection[i+1:]
		}

		switch {
		case rest == "" && r.Method == http.MethodGet:
			if !f.collections[collection] {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"status": {"error": "Not found"}}`)
				return
			}
			fmt.Fprint(w, `{"result": {}, "status": "ok"}`)

		case rest == "" && r.Method == http.MethodPut:
			f.collections[collection] = true
			fmt.Fprint(w, `{"result": true, "status": "ok"}`)

		case rest == "points" && r.Method == http.MethodPut:
			var body struct {
				Points []json.RawMessage `json:"points"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if f.points[collection] == nil {
				f.points[collection] = map[string]json.RawMessage{}
			}
			for _, p := range body.Points {
				var meta struct {
					ID json.RawMessage `json:"id"`
				}
				json.Unmarshal(p, &meta)
				f.points[collection][string(meta.ID)] = p
			}
			fmt.Fprint(w, `{"result": {"status": "completed"}, "status": "ok"}`)

		case rest == "points/search" && r.Method == http.MethodPost:
			if f.failSearch {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"status": {"error": "boom"}}`)
				return
			}
			fmt.Fprint(w, f.searchBody)

		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func newTestClient(t *testing.T, fake *fakeQdrant, collections ...string) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{
		URL:         srv.URL,
		Collections: collections,
		Dimensions:  4,
	})
	require.NoError(t, err)
	return c
}

func TestNew_CreatesMissingCollections(t *testing.T) {
	fake := newFakeQdrant()
	newTestClient(t, fake, "categories", "templates")

	assert.True(t, fake.collections["categories"])
	assert.True(t, fake.collections["templates"])
}

func TestNew_ExistingCollectionsUntouched(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["categories"] = true

	newTestClient(t, fake, "categories")
	assert.True(t, fake.collections["categories"])
}

func TestNew_RequiresURLAndDimensions(t *testing.T) {
	_, err := New(context.Background(), Config{Dimensions: 4})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{URL: "http://localhost:6333"})
	assert.Error(t, err)
}

func TestUpsert(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake, "categories")

	err := c.Upsert(context.Background(), "categories", 7, []float32{0.1, 0.2, 0.3, 0.4}, map[string]any{"name": "Vitamins"})
	require.NoError(t, err)
	assert.Contains(t, fake.points["categories"], "7")
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake, "categories")

	err := c.Upsert(context.Background(), "categories", 7, []float32{0.1, 0.2}, nil)
	assert.Error(t, err)
	assert.Empty(t, fake.points["categories"])
}

func TestSearch_OrderedMatches(t *testing.T) {
	fake := newFakeQdrant()
	fake.searchBody = `{"result": [
		{"id": 3, "score": 0.91, "payload": {"name": "Vitamins"}},
		{"id": "tpl-a", "score": 0.72, "payload": {"name": "Supplements"}}
	], "status": "ok"}`
	c := newTestClient(t, fake, "categories")

	matches := c.Search(context.Background(), "categories", []float32{0, 0, 0, 0}, 5)
	require.Len(t, matches, 2)
	assert.Equal(t, "3", matches[0].ID)
	assert.Equal(t, 0.91, matches[0].Score)
	assert.Equal(t, "Vitamins", matches[0].Payload["name"])
	assert.Equal(t, "tpl-a", matches[1].ID)
}

func TestSearch_ErrorYieldsEmpty(t *testing.T) {
	fake := newFakeQdrant()
	fake.failSearch = true
	c := newTestClient(t, fake, "categories")

	matches := c.Search(context.Background(), "categories", []float32{0, 0, 0, 0}, 5)
	assert.Nil(t, matches)
}

func TestSearch_UnreachableYieldsEmpty(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake.handler())
	c, err := New(context.Background(), Config{URL: srv.URL, Collections: []string{"c"}, Dimensions: 4})
	require.NoError(t, err)
	srv.Close()

	matches := c.Search(context.Background(), "c", []float32{0, 0, 0, 0}, 5)
	assert.Nil(t, matches)
}

func TestSearch_MalformedEnvelopeYieldsEmpty(t *testing.T) {
	fake := newFakeQdrant()
	fake.searchBody = `not json`
	c := newTestClient(t, fake, "categories")

	assert.Nil(t, c.Search(context.Background(), "categories", []float32{0, 0, 0, 0}, 5))
}
