package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/ignite/catalog-importer/internal/config"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/importer"
	webhooksvc "github.com/ignite/catalog-importer/internal/service/webhook"
	"github.com/redis/go-redis/v9"
)

// Handlers bundles the HTTP surface's dependencies.
type Handlers struct {
	cfg      *config.Config
	imports  *importer.Service
	products *postgres.ProductRepo
	webhooks *postgres.WebhookRepo
	events   *webhooksvc.Service
	progress *progress.Store

	db     *sql.DB
	rdb    *redis.Client
	broker *redis.Client
}

// NewHandlers wires the API handler set.
func NewHandlers(
	cfg *config.Config,
	imports *importer.Service,
	products *postgres.ProductRepo,
	webhooks *postgres.WebhookRepo,
	events *webhooksvc.Service,
	store *progress.Store,
	db *sql.DB,
	rdb, broker *redis.Client,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		imports:  imports,
		products: products,
		webhooks: webhooks,
		events:   events,
		progress: store,
		db:       db,
		rdb:      rdb,
		broker:   broker,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
