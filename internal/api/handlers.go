package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/bestseller-affiliator/internal/models"
	"github.com/maltedev/bestseller-affiliator/internal/store"
)

// ProductReader is the read side of the record store.
type ProductReader interface {
	GetLastItemIndex(ctx context.Context) int
	GetProduct(ctx context.Context, index int) (*models.Product, bool)
	Entries(ctx context.Context) []store.Entry
	NoOp() bool
}

type Handlers struct {
	products ProductReader
	logger   *slog.Logger
}

func NewHandlers(products ProductReader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		products: products,
		logger:   logger.With("component", "api"),
	}
}

// ProductResponse is one stored product as served by the API.
type ProductResponse struct {
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	Link         string     `json:"link"`
	URL          string     `json:"url"`
	AffiliateURL string     `json:"affiliate_url,omitempty"`
	Price        float64    `json:"price"`
	LastPrice    *float64   `json:"last_price,omitempty"`
	PriceChanged bool       `json:"price_changed"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func newProductResponse(index int, p *models.Product) ProductResponse {
	return ProductResponse{
		Index:        index,
		Name:         p.Name,
		Link:         p.PublishedURL(),
		URL:          p.URL,
		AffiliateURL: p.AffiliateURL,
		Price:        p.Price,
		LastPrice:    p.LastPrice,
		PriceChanged: p.PriceChanged(),
		UpdatedAt:    p.UpdatedAt,
	}
}

type ListProductsResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
}

// Health reports "degraded" while the store runs in no-op mode.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"store":  "connected",
	}
	if h.products.NoOp() {
		health["status"] = "degraded"
		health["store"] = "no-op"
	}
	h.respondJSON(w, http.StatusOK, health)
}

// ListProducts serves every stored product in index order. ?changed=true
// keeps only products whose price moved on the last update; ?limit caps the
// result.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	onlyChanged := query.Get("changed") == "true"

	entries := h.products.Entries(r.Context())
	products := make([]ProductResponse, 0, len(entries))
	for _, e := range entries {
		if onlyChanged && !e.Product.PriceChanged() {
			continue
		}
		products = append(products, newProductResponse(e.Index, e.Product))
	}

	total := len(products)
	if limit > 0 && limit < len(products) {
		products = products[:limit]
	}

	h.respondJSON(w, http.StatusOK, ListProductsResponse{
		Products: products,
		Total:    total,
	})
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 1 {
		h.respondError(w, http.StatusBadRequest, "index must be a positive integer")
		return
	}

	p, ok := h.products.GetProduct(r.Context(), index)
	if !ok {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}

	h.respondJSON(w, http.StatusOK, newProductResponse(index, p))
}

func (h *Handlers) GetLastItem(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]int{
		"last_item": h.products.GetLastItemIndex(r.Context()),
	})
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
