package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sdko-org/analytics-dashboard/internal/export"
	"github.com/sdko-org/analytics-dashboard/internal/models"
	"github.com/sdko-org/analytics-dashboard/internal/query"
	"github.com/sdko-org/analytics-dashboard/internal/tables"
	"github.com/sirupsen/logrus"
)

// refreshParam forces a refetch before the table is served. It is not
// forwarded to the upstream API.
const refreshParam = "refresh"

type Exporter interface {
	Export(ctx context.Context, snap export.Snapshot) (*models.SnapshotExport, error)
}

type ExportLister interface {
	RecentExports(ctx context.Context, endpoint string, limit int) ([]models.SnapshotExport, error)
}

type DashboardHandler struct {
	queries  *query.Client
	registry *endpoint.Registry
	timeout  time.Duration
	exporter Exporter
	exports  ExportLister
	log      *logrus.Entry
}

type Option func(*DashboardHandler)

func WithExporter(e Exporter) Option {
	return func(h *DashboardHandler) { h.exporter = e }
}

func WithExportLister(l ExportLister) Option {
	return func(h *DashboardHandler) { h.exports = l }
}

func NewDashboardHandler(logger *logrus.Logger, queries *query.Client, registry *endpoint.Registry, timeout time.Duration, opts ...Option) *DashboardHandler {
	h := &DashboardHandler{
		queries:  queries,
		registry: registry,
		timeout:  timeout,
		log:      logger.WithField("component", "dashboard_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type tableResponse struct {
	Endpoint  string          `json:"endpoint"`
	Title     string          `json:"title"`
	Columns   []tables.Column `json:"columns"`
	Rows      [][]string      `json:"rows"`
	Status    string          `json:"status"`
	Error     *fetchError     `json:"error,omitempty"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
}

type fetchError struct {
	Kind       string `json:"kind"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

func newTableResponse(res query.Result) tableResponse {
	tbl := tables.For(res.Endpoint, res.Data)
	resp := tableResponse{
		Endpoint: res.Endpoint,
		Title:    tbl.Title,
		Columns:  tbl.Columns,
		Rows:     tbl.Rows(res.Data),
		Status:   res.Status.String(),
	}
	if res.Error != nil {
		resp.Error = &fetchError{
			Kind:       string(res.Error.Kind),
			StatusCode: res.Error.StatusCode,
			Message:    res.Error.Message,
		}
	}
	if !res.LastFetchedAt.IsZero() {
		t := res.LastFetchedAt
		resp.FetchedAt = &t
	}
	return resp
}

// ServeTable answers GET /tables/{endpoint}. Cached data is served as long
// as the refetch policy allows; a failed fetch returns 502 together with
// whatever rows were last loaded.
func (h *DashboardHandler) ServeTable(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["endpoint"]
	params, refresh := paramsFromQuery(r.URL.Query())
	log := h.log.WithField("endpoint", key)

	if refresh {
		if err := h.queries.Refetch(key, params); err != nil {
			h.writeQueryError(w, log, err, nil)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.queries.Fetch(ctx, key, params)
	if err != nil {
		h.writeQueryError(w, log, err, &res)
		return
	}

	status := http.StatusOK
	if res.IsError {
		status = http.StatusBadGateway
		log.WithField("error", res.Error).Warn("Serving table with fetch error")
	}
	writeJSON(w, status, newTableResponse(res))
}

func (h *DashboardHandler) writeQueryError(w http.ResponseWriter, log *logrus.Entry, err error, res *query.Result) {
	var unknown *endpoint.UnknownEndpointError
	switch {
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Timed out waiting for fetch")
		if res != nil && res.Endpoint != "" {
			writeJSON(w, http.StatusGatewayTimeout, newTableResponse(*res))
			return
		}
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for upstream")
	case errors.Is(err, context.Canceled):
		log.Debug("Client went away")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type endpointInfo struct {
	Key       string     `json:"key"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Cached    bool       `json:"cached"`
	Status    string     `json:"status,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// ListEndpoints answers GET /api/endpoints with every registered endpoint
// and the state of its parameterless cache entry.
func (h *DashboardHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	keys := h.registry.Keys()
	out := make([]endpointInfo, 0, len(keys))
	for _, key := range keys {
		d, err := h.registry.Resolve(key)
		if err != nil {
			continue
		}
		info := endpointInfo{
			Key:   key,
			Title: tables.For(key, nil).Title,
			URL:   d.URLTemplate,
		}
		if res, ok, err := h.queries.Peek(key, nil); err == nil && ok {
			info.Cached = true
			info.Status = res.Status.String()
			if !res.LastFetchedAt.IsZero() {
				t := res.LastFetchedAt
				info.FetchedAt = &t
			}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// InvalidateCache answers POST /admin/cache/invalidate?endpoint=<key>.
// Remaining query parameters select the cache entry.
func (h *DashboardHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("endpoint")
	if key == "" {
		writeError(w, http.StatusBadRequest, "endpoint parameter required")
		return
	}
	q.Del("endpoint")
	params, _ := paramsFromQuery(q)

	if err := h.queries.Invalidate(key, params); err != nil {
		h.writeQueryError(w, h.log.WithField("endpoint", key), err, nil)
		return
	}

	h.log.WithFields(logrus.Fields{
		"endpoint": key,
		"params":   params.Encode(),
	}).Info("Cache invalidated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "endpoint": key})
}

// RefetchCache answers POST /admin/cache/refetch/{endpoint}.
func (h *DashboardHandler) RefetchCache(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["endpoint"]
	params, _ := paramsFromQuery(r.URL.Query())

	if err := h.queries.Refetch(key, params); err != nil {
		h.writeQueryError(w, h.log.WithField("endpoint", key), err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refetching", "endpoint": key})
}

// ExportSnapshot answers POST /admin/export/{endpoint} by uploading the
// current successful data of the entry. An entry whose latest fetch failed
// is refused even when it still holds older records.
func (h *DashboardHandler) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot export is not configured")
		return
	}

	key := mux.Vars(r)["endpoint"]
	params, _ := paramsFromQuery(r.URL.Query())
	log := h.log.WithField("endpoint", key)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.queries.Fetch(ctx, key, params)
	if err != nil {
		h.writeQueryError(w, log, err, nil)
		return
	}
	if res.IsError {
		writeError(w, http.StatusConflict, "latest fetch failed; refusing to export stale data")
		return
	}
	if res.Data == nil {
		writeError(w, http.StatusConflict, "no data to export")
		return
	}

	record, err := h.exporter.Export(ctx, export.Snapshot{
		Endpoint:      key,
		CacheKey:      endpoint.CacheKey(key, params),
		Records:       res.Data,
		LastFetchedAt: res.LastFetchedAt,
	})
	if err != nil {
		log.WithError(err).Error("Snapshot export failed")
		writeError(w, http.StatusBadGateway, "snapshot export failed")
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListExports answers GET /admin/exports/{endpoint}.
func (h *DashboardHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "export history is not configured")
		return
	}

	key := mux.Vars(r)["endpoint"]
	if _, err := h.registry.Resolve(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	exports, err := h.exports.RecentExports(r.Context(), key, 20)
	if err != nil {
		h.log.WithError(err).Error("Failed to list exports")
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	writeJSON(w, http.StatusOK, exports)
}

// paramsFromQuery forwards every query parameter as a string parameter,
// keeping the first value of repeated names.
func paramsFromQuery(q url.Values) (endpoint.Params, bool) {
	refresh := false
	if v := q.Get(refreshParam); v == "1" || v == "true" {
		refresh = true
	}

	var params endpoint.Params
	for name, values := range q {
		if name == refreshParam || len(values) == 0 {
			continue
		}
		if params == nil {
			params = make(endpoint.Params)
		}
		params[name] = values[0]
	}
	return params, refresh
}
