package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bestseller-affiliator/internal/models"
	"github.com/maltedev/bestseller-affiliator/internal/pipeline"
	"github.com/maltedev/bestseller-affiliator/internal/store"
)

func seededGateway(t *testing.T) *store.Gateway {
	t.Helper()
	ctx := context.Background()
	g := store.NewGateway(store.NewMemory(), store.DefaultOptions(), nil)

	kindle, err := models.NewProduct("Kindle", "https://www.amazon.com.br/dp/B0KINDLE01", 499)
	require.NoError(t, err)
	kindle.AffiliateURL = "https://amzn.to/kindle"
	_, err = g.AddProduct(ctx, kindle)
	require.NoError(t, err)

	echo, err := models.NewProduct("Echo Dot", "https://www.amazon.com.br/dp/B0ECHO0001", 299)
	require.NoError(t, err)
	_, err = g.AddProduct(ctx, echo)
	require.NoError(t, err)

	echo.Refresh(249, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	require.NoError(t, g.UpdateProduct(ctx, 2, echo))
	return g
}

func serve(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListProducts(t *testing.T) {
	router := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{})

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantNames []string
		wantTotal int
	}{
		{name: "all", target: "/api/v1/products", wantCode: http.StatusOK, wantNames: []string{"Kindle", "Echo Dot"}, wantTotal: 2},
		{name: "limit", target: "/api/v1/products?limit=1", wantCode: http.StatusOK, wantNames: []string{"Kindle"}, wantTotal: 2},
		{name: "changed", target: "/api/v1/products?changed=true", wantCode: http.StatusOK, wantNames: []string{"Echo Dot"}, wantTotal: 1},
		{name: "bad limit", target: "/api/v1/products?limit=abc", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, router, tt.target)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp ListProductsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantTotal, resp.Total)

			var names []string
			for _, p := range resp.Products {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestGetProduct(t *testing.T) {
	router := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{})

	rec := serve(t, router, "/api/v1/products/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var kindle ProductResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kindle))
	assert.Equal(t, 1, kindle.Index)
	assert.Equal(t, "https://amzn.to/kindle", kindle.Link)
	assert.False(t, kindle.PriceChanged)

	rec = serve(t, router, "/api/v1/products/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var echo ProductResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echo))
	assert.True(t, echo.PriceChanged)
	require.NotNil(t, echo.LastPrice)
	assert.Equal(t, 299.0, *echo.LastPrice)
	assert.Equal(t, 249.0, echo.Price)

	assert.Equal(t, http.StatusNotFound, serve(t, router, "/api/v1/products/9").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, router, "/api/v1/products/0").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, router, "/api/v1/products/first").Code)
}

func TestLastItem(t *testing.T) {
	router := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{})

	rec := serve(t, router, "/api/v1/last-item")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"last_item":2}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	rec := serve(t, NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{}), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","store":"connected"}`, rec.Body.String())

	noop := store.NewNoOp(store.DefaultOptions(), nil)
	rec = serve(t, NewRouter(NewHandlers(noop, nil), RouterOptions{}), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","store":"no-op"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	metrics := pipeline.NewMetrics()
	metrics.IncAffiliate("generated")

	router := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{Gatherer: metrics.Registry})
	rec := serve(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `servant_affiliate_links_total{result="generated"} 1`)

	without := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{})
	assert.Equal(t, http.StatusNotFound, serve(t, without, "/metrics").Code)
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(NewHandlers(seededGateway(t), nil), RouterOptions{AllowedOrigins: []string{"https://ofertas.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://ofertas.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://ofertas.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
