package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedforge/pricefeed/pkg/engine"
	"github.com/feedforge/pricefeed/pkg/logging"
)

const ownerID = "owner"

func newTestServer(t *testing.T) (*httptest.Server, *engine.ManualClock) {
	t.Helper()

	clock := engine.NewManualClock(100)
	eng, err := engine.New(engine.Config{
		Owner:              ownerID,
		StalenessThreshold: 120,
		Clock:              clock,
	}, logging.NewNoopLogger())
	require.NoError(t, err)

	srv := NewServer(":0", eng, logging.NewNoopLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, clock
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, source string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if source != "" {
		req.Header.Set(SourceHeader, source)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func authorize(t *testing.T, ts *httptest.Server, source string) {
	t.Helper()
	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/admin/sources/"+source+"/authorize", ownerID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func submit(t *testing.T, ts *httptest.Server, source, asset, price string, weight int64) *http.Response {
	t.Helper()
	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/quotes", source, map[string]interface{}{
		"asset":  asset,
		"price":  price,
		"weight": weight,
	})
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHeight(t *testing.T) {
	ts, clock := newTestServer(t)
	clock.Advance(5)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/height", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(105), body["height"])
}

func TestSubmitAndGetPrice(t *testing.T) {
	ts, _ := newTestServer(t)
	authorize(t, ts, "s1")

	resp := submit(t, ts, "s1", "STX", "1850000", 50)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/prices/STX", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1850000", body["price"])
	assert.Equal(t, "STX", body["asset"])
}

func TestSubmit_ErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)
	authorize(t, ts, "s1")

	t.Run("unauthorized source", func(t *testing.T) {
		resp := submit(t, ts, "intruder", "STX", "100", 50)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("invalid price", func(t *testing.T) {
		resp := submit(t, ts, "s1", "STX", "0", 50)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid weight", func(t *testing.T) {
		resp := submit(t, ts, "s1", "STX", "100", 101)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unparseable price", func(t *testing.T) {
		resp := submit(t, ts, "s1", "STX", "not-a-number", 50)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/quotes", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetPrice_NotFoundAndStale(t *testing.T) {
	ts, clock := newTestServer(t)
	authorize(t, ts, "s1")

	resp, _ := doRequest(t, ts, http.MethodGet, "/v1/prices/MISSING", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	submit(t, ts, "s1", "STX", "1850000", 50)
	clock.Advance(121)

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/prices/STX", "", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// The raw aggregate stays readable past staleness.
	resp, body := doRequest(t, ts, http.MethodGet, "/v1/prices/STX/data", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1850000", body["price"])
	assert.Equal(t, float64(100), body["last_update_height"])
	assert.Equal(t, float64(1), body["source_count"])

	resp, fresh := doRequest(t, ts, http.MethodGet, "/v1/prices/STX/fresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, fresh["fresh"])
}

func TestSourceQuote(t *testing.T) {
	ts, _ := newTestServer(t)
	authorize(t, ts, "s1")
	submit(t, ts, "s1", "STX", "1850000", 50)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/quotes/STX/s1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1850000", body["price"])
	assert.Equal(t, float64(50), body["weight"])
	assert.Equal(t, float64(100), body["height"])
	assert.Equal(t, true, body["active"])

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/quotes/STX/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConvert(t *testing.T) {
	ts, _ := newTestServer(t)
	authorize(t, ts, "s1")
	submit(t, ts, "s1", "STX", "300", 50)
	submit(t, ts, "s1", "USD", "200", 50)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/convert?from=STX&to=USD&amount=10", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "15", body["amount"])

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/convert?from=STX&to=USD&amount=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/convert?from=STX&to=MISSING&amount=10", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_OwnerGate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/admin/sources/s1/authorize", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/sources/s1/authorize", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	authorize(t, ts, "s1")

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/admin/sources/s1/deauthorize", ownerID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deauthorized", body["status"])

	resp = submit(t, ts, "s1", "STX", "100", 50)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdmin_SetParams(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/admin/params", ownerID, map[string]interface{}{
		"min_sources":         2,
		"staleness_threshold": 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["min_sources"])
	assert.Equal(t, float64(60), body["staleness_threshold"])

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/params", "mallory", map[string]interface{}{
		"min_sources": 3,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/params", ownerID, map[string]interface{}{
		"min_sources": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_Pause(t *testing.T) {
	ts, _ := newTestServer(t)
	authorize(t, ts, "s1")
	submit(t, ts, "s1", "STX", "100", 50)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/admin/quotes/STX/s1/pause", ownerID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", body["status"])

	resp, quote := doRequest(t, ts, http.MethodGet, "/v1/quotes/STX/s1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, quote["active"])

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/quotes/STX/s9/pause", ownerID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/quotes/STX/s1/pause", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
