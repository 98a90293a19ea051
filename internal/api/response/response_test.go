package response_test

import (
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raincheck/raincheck/internal/api/response"
	"github.com/raincheck/raincheck/internal/weather"
)

type item struct {
	N int `json:"n"`
}

func items(n int, failAfter error) iter.Seq2[item, error] {
	return func(yield func(item, error) bool) {
		for i := range n {
			if !yield(item{N: i}, nil) {
				return
			}
		}
		if failAfter != nil {
			yield(item{}, failAfter)
		}
	}
}

func TestNDJSON_StreamsItems(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/locations", http.NoBody)

	started, err := response.NDJSON(rec, req, items(3, nil))

	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response.ContentTypeNDJSON, rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "{\"n\":0}\n{\"n\":1}\n{\"n\":2}\n", rec.Body.String())
}

func TestNDJSON_EmptySequence(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/locations", http.NoBody)

	started, err := response.NDJSON(rec, req, items(0, nil))

	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestNDJSON_ErrorBeforeFirstItemWritesNothing(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/where-to-go", http.NoBody)

	started, err := response.NDJSON(rec, req, items(0, weather.ErrPlaceNotFound))

	require.ErrorIs(t, err, weather.ErrPlaceNotFound)
	assert.False(t, started)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Type"))
}

func TestNDJSON_ErrorAfterStartEndsWithErrorLine(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/locations", http.NoBody)
	boom := errors.New("provider exploded")

	started, err := response.NDJSON(rec, req, items(2, boom))

	require.ErrorIs(t, err, boom)
	assert.True(t, started)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"error":{"code":"Internal"}}`, lines[2])
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestConflict_IncludesExistingLocation(t *testing.T) {
	existing := weather.NewLocation("Seattle", 47.6062, -122.3321)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/locations", http.NoBody)

	response.Conflict(rec, req, "location already exists", &existing)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"instance":"/v1/locations"`)
	assert.Contains(t, rec.Body.String(), `"id":"47.61,-122.33"`)
}

func TestCreated_SetsLocation(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/locations", http.NoBody)

	response.Created(rec, req, "/v1/locations/1.00,2.00", map[string]string{"id": "1.00,2.00"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/locations/1.00,2.00", rec.Header().Get("Location"))
	assert.JSONEq(t, `{"id":"1.00,2.00"}`, rec.Body.String())
}
