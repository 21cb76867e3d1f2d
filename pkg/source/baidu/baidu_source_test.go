package baidu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/auth"
	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
)

func testConfig() *config.PipelineConfig {
	cfg := config.NewPipelineConfig("test")
	cfg.Reliability.BackoffBase = time.Millisecond
	cfg.Reliability.BackoffMax = 4 * time.Millisecond
	return cfg
}

func testRequest() *report.Request {
	return &report.Request{
		DateRange:  report.DateRange{Start: report.MustDate("2020-01-01"), End: report.MustDate("2020-01-31")},
		Dimensions: []string{"simple_page_title"},
		Metrics:    []string{"pv_count", "visitor_count"},
		AccountID:  "987654",
		PageSize:   2,
	}
}

func newTestSource(serverURL string) *Source {
	caller := auth.NewBaiduCaller(config.BaiduCredentials{
		Username: "acct",
		Password: "secret",
		Token:    "tok123",
	}, 5*time.Second)
	return New(caller, testConfig(), Options{Endpoint: serverURL})
}

func wirePage(dims [][]interface{}, metrics [][]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"header": map[string]interface{}{"status": 0},
		"body": map[string]interface{}{
			"data": []map[string]interface{}{{
				"result": map[string]interface{}{
					"items": [][][]interface{}{dims, metrics},
				},
			}},
		},
	}
}

func TestFetchZipsDimensionAndMetricTuples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, 1, req.Header.AccountType)
		assert.Equal(t, "acct", req.Header.Username)
		assert.Equal(t, "tok123", req.Header.Token)
		assert.Equal(t, "987654", req.Body.SiteID)
		assert.Equal(t, "20200101", req.Body.StartDate)
		assert.Equal(t, "20200131", req.Body.EndDate)
		assert.Equal(t, "pv_count,visitor_count", req.Body.Metrics)

		_ = json.NewEncoder(w).Encode(wirePage(
			[][]interface{}{{"home"}},
			[][]interface{}{{float64(120), float64(80)}},
		))
	}))
	defer server.Close()

	out, err := newTestSource(server.URL).Fetch(context.Background(), testRequest())
	require.NoError(t, err)

	require.Equal(t, 1, out.Rows())
	assert.Equal(t, []interface{}{"home", float64(120), float64(80)}, out.Pages[0].Rows[0])
}

func TestFetchWindowPaging(t *testing.T) {
	var startIndexes []int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		startIndexes = append(startIndexes, req.Body.StartIndex)

		// first window is full, second is short
		if req.Body.StartIndex == 0 {
			_ = json.NewEncoder(w).Encode(wirePage(
				[][]interface{}{{"home"}, {"pricing"}},
				[][]interface{}{{float64(120), float64(80)}, {float64(60), float64(40)}},
			))
			return
		}
		_ = json.NewEncoder(w).Encode(wirePage(
			[][]interface{}{{"docs"}},
			[][]interface{}{{float64(30), float64(20)}},
		))
	}))
	defer server.Close()

	out, err := newTestSource(server.URL).Fetch(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, startIndexes)
	assert.Equal(t, 2, out.PagesFetched)
	assert.Equal(t, 3, out.Rows())
}

func TestFetchQuotaStatusRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"header": map[string]interface{}{"status": 4, "desc": "open api quota is not enough"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(wirePage(
			[][]interface{}{{"home"}},
			[][]interface{}{{float64(1), float64(1)}},
		))
	}))
	defer server.Close()

	out, err := newTestSource(server.URL).Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, out.RetriesUsed)
}

func TestFetchAuthStatusRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"header": map[string]interface{}{"status": 1, "desc": "username or password invalid"},
		})
	}))
	defer server.Close()

	_, err := newTestSource(server.URL).Fetch(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRequestRejected))
}

func TestZipItemsNestedPageDescriptor(t *testing.T) {
	resp := &wireResponse{}
	resp.Body.Data = []wireData{{Result: wireResult{Items: [][][]interface{}{
		{{map[string]interface{}{"name": "/index.html", "id": "99"}}},
		{{float64(5), MissingValue}},
	}}}}

	rows, err := zipItems(resp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{"/index.html", float64(5), "--"}, rows[0])
}

func TestZipItemsCountMismatch(t *testing.T) {
	resp := &wireResponse{}
	resp.Body.Data = []wireData{{Result: wireResult{Items: [][][]interface{}{
		{{"a"}, {"b"}},
		{{float64(1)}},
	}}}}

	_, err := zipItems(resp)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
}
