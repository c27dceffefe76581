package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianxingj2021/wangge/internal/controller"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
	_ "github.com/tianxingj2021/wangge/internal/strategies/grid"
	"github.com/tianxingj2021/wangge/pkg/config"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	mock := exchange.NewMockExchange()
	mock.SetTicker(exchange.Ticker{
		Bid:  decimal.NewFromInt(159),
		Ask:  decimal.NewFromInt(161),
		Last: decimal.NewFromInt(160),
	})

	pool := exchange.NewPool()
	pool.Register(&config.AccountConfig{Name: "test", BaseURL: "http://localhost", TimeoutSecs: 1}, mock)

	publisher := services.NewStatusPublisher(time.Second)
	ctrl := controller.New(strategies.GlobalRegistry, pool, nil, publisher)
	srv := New(ctrl, publisher)
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func gridBody() map[string]interface{} {
	return map[string]interface{}{
		"account":        "test",
		"market":         "btc", // 故意用简写，服务端应标准化为 BTC-USD
		"lower_price":    "100",
		"upper_price":    "200",
		"grid_count":     5,
		"order_quantity": "1",
	}
}

func createGrid(t *testing.T, h http.Handler) string {
	t.Helper()

	w := doJSON(t, h, http.MethodPost, "/api/strategy/grid/start", gridBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestCreateStartStatus(t *testing.T) {
	_, h := newTestServer(t)
	id := createGrid(t, h)

	w := doJSON(t, h, http.MethodGet, "/api/strategy/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Market string `json:"market"`
			State  string `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BTC-USD", resp.Data.Market, "简写交易对应被标准化")
	assert.Equal(t, "running", resp.Data.State)

	// 停止后可通过 /:id/start 重启
	w = doJSON(t, h, http.MethodPost, "/api/strategy/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodPost, "/api/strategy/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 清理
	doJSON(t, h, http.MethodPost, "/api/strategy/"+id+"/stop", nil)
}

func TestNotFoundMapsTo404(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/api/strategy/no-such-id/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/strategy/no-such-id/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidConfigMapsTo400(t *testing.T) {
	_, h := newTestServer(t)

	body := gridBody()
	body["grid_count"] = 1
	w := doJSON(t, h, http.MethodPost, "/api/strategy/grid/start", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRunningRejected(t *testing.T) {
	_, h := newTestServer(t)
	id := createGrid(t, h)

	w := doJSON(t, h, http.MethodDelete, "/api/strategy/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "运行中的实例不允许删除")

	doJSON(t, h, http.MethodPost, "/api/strategy/"+id+"/stop", nil)
	w = doJSON(t, h, http.MethodDelete, "/api/strategy/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListAndTypes(t *testing.T) {
	_, h := newTestServer(t)
	id := createGrid(t, h)
	defer doJSON(t, h, http.MethodPost, "/api/strategy/"+id+"/stop", nil)

	w := doJSON(t, h, http.MethodGet, "/api/strategy/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.Equal(t, id, listResp.Data[0].ID)

	w = doJSON(t, h, http.MethodGet, "/api/strategy/types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"grid"`)
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizeMarket(t *testing.T) {
	cases := map[string]string{
		"btc":        "BTC-USD",
		" eth-usdt ": "ETH-USDT",
		"sol/usd":    "SOL-USD",
		"BTC/USDT":   "BTC-USDT",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeMarket(in), "输入 %q", in)
	}
}
