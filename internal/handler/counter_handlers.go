// Package handler provides HTTP request handlers for the counter API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apierrors "github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/middleware"
	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/service"
)

const (
	// IdempotencyKeyHeader lets clients retry writes safely
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from the idempotency store
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxBodyBytes = 64 << 10
)

// Increment modes
const (
	ModeUpdate       = "update"
	ModeUpdateAndGet = "update_and_get"
	ModeGetAndUpdate = "get_and_update"
)

const (
	defaultIncrement   = int64(1)
	operationIncr      = "increment"
	operationDecr      = "decrement"
	operationReset     = "reset"
	queryParamReadSync = "read_sync"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	counters     *service.CounterService
	idempotency  *service.IdempotencyService
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance. A nil idempotency service
// disables Idempotency-Key handling.
func NewHandlers(
	counters *service.CounterService,
	idempotency *service.IdempotencyService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handlers{
		counters:     counters,
		idempotency:  idempotency,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// RegisterRoutes mounts the counter API on r. Routes are registered with full
// paths on r itself so method mismatches reach r's MethodNotAllowedHandler.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	const base = "/v1/counters/{name}"
	r.HandleFunc(base, h.EnsureCounter).Methods(http.MethodPut)
	r.HandleFunc(base, h.GetCounter).Methods(http.MethodGet)
	r.HandleFunc(base+"/increments", h.Increment).Methods(http.MethodPost)
	r.HandleFunc(base+"/decrements", h.Decrement).Methods(http.MethodPost)
	r.HandleFunc(base+"/reset", h.Reset).Methods(http.MethodPost)
	r.HandleFunc(base+"/{field}", h.GetValue).Methods(http.MethodGet)
}

// CounterResponse is the JSON view of a counter.
type CounterResponse struct {
	Name         string           `json:"name"`
	Counts       map[string]int64 `json:"counts"`
	LastUpdateMs int64            `json:"last_update_ms"`
	LastUpdate   string           `json:"last_update"`
}

// EnsureResponse reports whether a PUT created the counter.
type EnsureResponse struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// ValueResponse carries one field value.
type ValueResponse struct {
	Name  string `json:"name"`
	Field string `json:"field"`
	Value int64  `json:"value"`
}

// IncrementRequest is the body of POST /v1/counters/{name}/increments.
type IncrementRequest struct {
	Field       string `json:"field"`
	TimestampMs *int64 `json:"timestamp_ms,omitempty"`
	Value       *int64 `json:"value,omitempty"`
	Limit       *int64 `json:"limit,omitempty"`
	Mode        string `json:"mode,omitempty"`
	ReadSync    bool   `json:"read_sync"`
	WriteSync   bool   `json:"write_sync"`
}

// IncrementResponse is returned by a successful increment.
type IncrementResponse struct {
	Name  string `json:"name"`
	Field string `json:"field"`
	Mode  string `json:"mode"`
	Value *int64 `json:"value,omitempty"`
}

// DecrementRequest is the body of POST /v1/counters/{name}/decrements.
type DecrementRequest struct {
	TimestampMs *int64 `json:"timestamp_ms,omitempty"`
	Value       int64  `json:"value"`
	WriteSync   bool   `json:"write_sync"`
}

// StatusResponse acknowledges writes without a value.
type StatusResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// EnsureCounter handles PUT /v1/counters/{name}.
func (h *Handlers) EnsureCounter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	existing, err := h.counters.Query(ctx, name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.counters.EnsureExists(ctx, name); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	h.writeJSONResponse(w, status, EnsureResponse{Name: name, Created: existing == nil})
}

// GetCounter handles GET /v1/counters/{name}.
func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	info, err := h.counters.Query(ctx, name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if info == nil {
		h.errorHandler.HandleError(w, r, apierrors.NotFound(name))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, toCounterResponse(info))
}

// GetValue handles GET /v1/counters/{name}/{field}.
func (h *Handlers) GetValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	field, err := model.ParseField(vars["field"])
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidField(vars["field"], err))
		return
	}
	readSync, err := boolQuery(r, queryParamReadSync)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	value, err := h.counters.GetValue(ctx, name, field, service.Options{ReadSync: readSync})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, ValueResponse{Name: name, Field: field.String(), Value: value})
}

// Increment handles POST /v1/counters/{name}/increments.
func (h *Handlers) Increment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req IncrementRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	field, err := model.ParseField(req.Field)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidField(req.Field, err))
		return
	}
	delta := defaultIncrement
	if req.Value != nil {
		delta = *req.Value
	}
	if delta < 0 {
		h.errorHandler.WriteValidationError(w, "value must not be negative; use decrements", middleware.GetRequestID(r.Context()))
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeUpdate
	}
	if mode != ModeUpdate && mode != ModeUpdateAndGet && mode != ModeGetAndUpdate {
		h.errorHandler.WriteValidationError(w, fmt.Sprintf("unknown mode %q", req.Mode), middleware.GetRequestID(r.Context()))
		return
	}

	h.withIdempotency(w, r, name, operationIncr, func(ctx context.Context) (int, any, error) {
		var err error
		ts := h.timestamp(req.TimestampMs)
		opts := service.Options{ReadSync: req.ReadSync, WriteSync: req.WriteSync}
		resp := IncrementResponse{Name: name, Field: field.String(), Mode: mode}

		if req.Limit != nil {
			var res service.Result
			switch mode {
			case ModeGetAndUpdate:
				res, err = h.counters.GetAndUpdateWithinLimit(ctx, name, field, ts, delta, *req.Limit, opts)
			case ModeUpdateAndGet:
				res, err = h.counters.UpdateAndGetWithinLimit(ctx, name, field, ts, delta, *req.Limit, opts)
			default:
				res, err = h.counters.UpdateWithinLimit(ctx, name, field, ts, delta, *req.Limit, opts)
			}
			if err != nil {
				return 0, nil, err
			}
			if res.Exceeded {
				return 0, nil, apierrors.QuotaExceeded(name, *req.Limit)
			}
			if mode != ModeUpdate {
				resp.Value = &res.Value
			}
			return http.StatusOK, resp, nil
		}

		var value int64
		switch mode {
		case ModeGetAndUpdate:
			value, err = h.counters.GetAndUpdate(ctx, name, field, ts, delta, opts)
		case ModeUpdateAndGet:
			value, err = h.counters.UpdateAndGet(ctx, name, field, ts, delta, opts)
		default:
			err = h.counters.Update(ctx, name, field, ts, delta, opts)
		}
		if err != nil {
			return 0, nil, err
		}
		if mode != ModeUpdate {
			resp.Value = &value
		}
		return http.StatusOK, resp, nil
	})
}

// Decrement handles POST /v1/counters/{name}/decrements.
func (h *Handlers) Decrement(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req DecrementRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	if req.Value <= 0 {
		h.errorHandler.WriteValidationError(w, "value must be positive", middleware.GetRequestID(r.Context()))
		return
	}

	h.withIdempotency(w, r, name, operationDecr, func(ctx context.Context) (int, any, error) {
		err := h.counters.Decrement(ctx, name, h.timestamp(req.TimestampMs), req.Value, service.Options{WriteSync: req.WriteSync})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, StatusResponse{Name: name, Status: "decremented"}, nil
	})
}

// Reset handles POST /v1/counters/{name}/reset.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h.withIdempotency(w, r, name, operationReset, func(ctx context.Context) (int, any, error) {
		if err := h.counters.Reset(ctx, name); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, StatusResponse{Name: name, Status: "reset"}, nil
	})
}

// withIdempotency runs op once per Idempotency-Key. Successful responses are
// stored and replayed verbatim for retries; failures are not remembered.
func (h *Handlers) withIdempotency(
	w http.ResponseWriter,
	r *http.Request,
	name, operation string,
	op func(ctx context.Context) (int, any, error),
) {
	requestID := middleware.GetRequestID(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.idempotency == nil {
		status, body, err := op(ctx)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.writeJSONResponse(w, status, body)
		return
	}

	if !h.idempotency.ValidateIdempotencyKey(key) {
		h.errorHandler.WriteValidationError(w, "invalid Idempotency-Key header", requestID)
		return
	}

	cached, err := h.idempotency.Get(ctx, name, operation, key)
	if err != nil {
		h.logger.Warn("Idempotency lookup failed, executing request",
			zap.String("counter", name),
			zap.String("request_id", requestID),
			zap.Error(err))
	} else if cached != nil {
		w.Header().Set(IdempotentReplayHeader, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.StatusCode)
		_, _ = w.Write(cached.Body)
		return
	}

	status, body, err := op(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InternalError("failed to encode response", err))
		return
	}
	if err := h.idempotency.Store(ctx, name, operation, key, &service.IdempotencyResponse{
		StatusCode: status,
		Body:       payload,
	}); err != nil {
		h.logger.Warn("Failed to store idempotency response",
			zap.String("counter", name),
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (h *Handlers) timestamp(ms *int64) time.Time {
	if ms == nil {
		return h.counters.Now()
	}
	return time.UnixMilli(*ms)
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func toCounterResponse(info *model.CounterInfo) CounterResponse {
	counts := make(map[string]int64, len(info.Counts))
	for f, v := range info.Counts {
		counts[f.String()] = v
	}
	return CounterResponse{
		Name:         info.Name,
		Counts:       counts,
		LastUpdateMs: info.LastUpdate.UnixMilli(),
		LastUpdate:   info.LastUpdate.UTC().Format(time.RFC3339Nano),
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query parameter %s must be a boolean", name)
	}
	return v, nil
}
