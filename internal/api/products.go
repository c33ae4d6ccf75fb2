package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
)

const maxFieldLength = 255

// ListProducts returns a filtered, paginated product listing.
//
//	GET {api_prefix}/products
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter postgres.ProductFilter
	if v := q.Get("sku"); v != "" {
		filter.SKU = &v
	}
	if v := q.Get("name"); v != "" {
		filter.Name = &v
	}
	if v := q.Get("description"); v != "" {
		filter.Description = &v
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'active' filter")
			return
		}
		filter.Active = &active
	}

	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}

	products, total, err := h.products.List(r.Context(), filter, page, pageSize)
	if err != nil {
		logger.Error("product list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":     products,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type productRequest struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

// CreateProduct inserts one product and fans out product.created.
//
//	POST {api_prefix}/products
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SKU == nil || strings.TrimSpace(*req.SKU) == "" {
		respondError(w, http.StatusBadRequest, "sku must not be empty")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name must not be empty")
		return
	}
	if len(*req.SKU) > maxFieldLength || len(*req.Name) > maxFieldLength {
		respondError(w, http.StatusBadRequest, "sku and name must be at most 255 characters")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	product, err := h.products.Create(r.Context(), domain.ProductInput{
		SKU:         *req.SKU,
		Name:        *req.Name,
		Description: req.Description,
		Active:      active,
	})
	if errors.Is(err, postgres.ErrDuplicateSKU) {
		respondError(w, http.StatusConflict, "a product with this SKU already exists")
		return
	}
	if err != nil {
		logger.Error("product create failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create product")
		return
	}

	h.events.Publish(r.Context(), domain.EventProductCreated, product)
	respondJSON(w, http.StatusCreated, product)
}

// GetProduct fetches one product.
//
//	GET {api_prefix}/products/{productID}
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	product, err := h.products.GetByID(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if err != nil {
		logger.Error("product get failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch product")
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// UpdateProduct applies a partial update and fans out product.updated.
//
//	PUT {api_prefix}/products/{productID}
func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SKU != nil && strings.TrimSpace(*req.SKU) == "" {
		respondError(w, http.StatusBadRequest, "sku must not be empty")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	product, err := h.products.Update(r.Context(), id, postgres.ProductUpdate{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	})
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if errors.Is(err, postgres.ErrDuplicateSKU) {
		respondError(w, http.StatusConflict, "a product with this SKU already exists")
		return
	}
	if err != nil {
		logger.Error("product update failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to update product")
		return
	}

	h.events.Publish(r.Context(), domain.EventProductUpdated, product)
	respondJSON(w, http.StatusOK, product)
}

// DeleteProduct removes one product and fans out product.deleted.
//
//	DELETE {api_prefix}/products/{productID}
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	deleted, err := h.products.Delete(r.Context(), id)
	if err != nil {
		logger.Error("product delete failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete product")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}

	h.events.Publish(r.Context(), domain.EventProductDeleted, map[string]interface{}{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
