package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
)

const (
	webhookTestTimeout  = 10 * time.Second
	maxTestResponseBody = 1000
)

type webhookRequest struct {
	URL     *string  `json:"url"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url host must not be empty")
	}
	return nil
}

// ListWebhooks returns all configured subscriptions.
//
//	GET {api_prefix}/webhooks
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.webhooks.List(r.Context())
	if err != nil {
		logger.Error("webhook list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list webhooks")
		return
	}
	respondJSON(w, http.StatusOK, webhooks)
}

// CreateWebhook registers a new subscription.
//
//	POST {api_prefix}/webhooks
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == nil {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := validateWebhookURL(*req.URL); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "events must not be empty")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	webhook, err := h.webhooks.Create(r.Context(), *req.URL, req.Events, enabled)
	if err != nil {
		logger.Error("webhook create failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create webhook")
		return
	}
	respondJSON(w, http.StatusCreated, webhook)
}

// GetWebhook fetches one subscription.
//
//	GET {api_prefix}/webhooks/{webhookID}
func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhookID")
	if !ok {
		return
	}
	webhook, err := h.webhooks.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	if err != nil {
		logger.Error("webhook get failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch webhook")
		return
	}
	respondJSON(w, http.StatusOK, webhook)
}

// UpdateWebhook applies a partial update.
//
//	PUT {api_prefix}/webhooks/{webhookID}
func (h *Handlers) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhookID")
	if !ok {
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL != nil {
		if err := validateWebhookURL(*req.URL); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Events != nil && len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "events must not be empty")
		return
	}

	webhook, err := h.webhooks.Update(r.Context(), id, postgres.WebhookUpdate{
		URL:     req.URL,
		Events:  req.Events,
		Enabled: req.Enabled,
	})
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	if err != nil {
		logger.Error("webhook update failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}
	respondJSON(w, http.StatusOK, webhook)
}

// DeleteWebhook removes a subscription and, by cascade, its delivery log.
//
//	DELETE {api_prefix}/webhooks/{webhookID}
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhookID")
	if !ok {
		return
	}
	deleted, err := h.webhooks.Delete(r.Context(), id)
	if err != nil {
		logger.Error("webhook delete failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete webhook")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestWebhook synchronously probes the subscription URL with a test event.
// No delivery row is written; this is an operator convenience, not part of
// the delivery history.
//
//	POST {api_prefix}/webhooks/{webhookID}/test
func (h *Handlers) TestWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhookID")
	if !ok {
		return
	}
	webhook, err := h.webhooks.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Webhook not found")
		return
	}
	if err != nil {
		logger.Error("webhook get failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch webhook")
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event":      "webhook.test",
		"webhook_id": id,
		"message":    "This is a test webhook event",
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	client := &http.Client{Timeout: webhookTestTimeout}
	start := time.Now()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to build test request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	out := map[string]interface{}{
		"success":          false,
		"response_code":    nil,
		"response_time_ms": elapsed,
		"response_body":    nil,
		"error":            nil,
	}
	if err != nil {
		out["error"] = err.Error()
		respondJSON(w, http.StatusOK, out)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxTestResponseBody+1))
	bodyText := string(body)
	if len(bodyText) > maxTestResponseBody {
		bodyText = bodyText[:maxTestResponseBody] + "... (truncated)"
	}

	out["success"] = resp.StatusCode >= 200 && resp.StatusCode < 300
	out["response_code"] = resp.StatusCode
	out["response_body"] = bodyText
	respondJSON(w, http.StatusOK, out)
}

// WebhookDeliveries returns paged delivery history for one subscription.
//
//	GET {api_prefix}/webhooks/{webhookID}/deliveries
func (h *Handlers) WebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhookID")
	if !ok {
		return
	}
	if _, err := h.webhooks.Get(r.Context(), id); errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Webhook not found")
		return
	} else if err != nil {
		logger.Error("webhook get failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch webhook")
		return
	}

	page := queryInt(r.URL.Query().Get("page"), 1)
	pageSize := queryInt(r.URL.Query().Get("page_size"), 50)
	if pageSize > 100 {
		pageSize = 100
	}

	deliveries, total, err := h.webhooks.Deliveries(r.Context(), id, pageSize, (page-1)*pageSize)
	if err != nil {
		logger.Error("delivery list failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":     deliveries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
