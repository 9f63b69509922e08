package opshttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/headerguard/internal/headerpolicy"
	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/props"
)

const maxPropertyValueBytes = 4 << 10

// WriteObserver is notified of runtime property changes. op is "set" or "delete".
type WriteObserver interface {
	IncRuntimePropertyWrite(op string)
}

// PropertiesAPI exposes the effective header policy configuration and lets
// operators override it through the runtime layer.
type PropertiesAPI struct {
	layered  *props.Layered
	runtime  *props.Runtime
	keys     []string
	observer WriteObserver
	logger   log.Logger
}

// NewPropertiesAPI serves the header policy keys. observer may be nil.
func NewPropertiesAPI(layered *props.Layered, runtime *props.Runtime, observer WriteObserver, logger log.Logger) *PropertiesAPI {
	if logger == nil {
		logger = log.Nop()
	}
	return &PropertiesAPI{
		layered:  layered,
		runtime:  runtime,
		keys:     headerpolicy.Keys,
		observer: observer,
		logger:   logger,
	}
}

// RegisterRoutes attaches the properties endpoints to the router
func (api *PropertiesAPI) RegisterRoutes(r chi.Router) {
	r.Get("/properties", api.HandleList)
	r.Put("/properties/{key}", api.HandleSet)
	r.Delete("/properties/{key}", api.HandleDelete)
}

// PropertyValue is one key as the middleware currently sees it.
type PropertyValue struct {
	Value  string `json:"value"`
	Source string `json:"source,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PropertiesResponse is the GET /properties body.
type PropertiesResponse struct {
	Sources       []string                 `json:"sources"`
	Properties    map[string]PropertyValue `json:"properties"`
	Runtime       map[string]string        `json:"runtime"`
	Decision      *headerpolicy.Decision   `json:"decision,omitempty"`
	DecisionError string                   `json:"decision_error,omitempty"`
	ServerTime    time.Time                `json:"server_time"`
}

// HandleList reports each policy key with the layer that answered it, the
// runtime overrides and the decision the next request would get.
func (api *PropertiesAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	resp := PropertiesResponse{
		Sources:    api.layered.Sources(),
		Properties: make(map[string]PropertyValue, len(api.keys)),
		Runtime:    api.runtime.Snapshot(),
		ServerTime: time.Now().UTC().Truncate(time.Second),
	}
	for _, k := range api.keys {
		v, src, err := api.layered.Explain(k)
		pv := PropertyValue{Value: v, Source: src}
		if err != nil {
			pv.Error = err.Error()
		}
		resp.Properties[k] = pv
	}
	d, err := headerpolicy.Resolve(api.layered)
	if err != nil {
		resp.DecisionError = err.Error()
	} else {
		resp.Decision = &d
	}
	api.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// HandleSet stores the request body as a runtime property. A trailing
// newline is dropped so `echo DENY | curl -T -` works.
func (api *PropertiesAPI) HandleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := api.knownKey(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPropertyValueBytes+1))
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(body) > maxPropertyValueBytes {
		api.writeError(ctx, w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}
	value := strings.TrimRight(string(body), "\r\n")

	api.runtime.Set(key, value)
	if api.observer != nil {
		api.observer.IncRuntimePropertyWrite("set")
	}
	api.logger.Info(ctx, "runtime property set", "key", key, "value", value, "remote_addr", r.RemoteAddr)

	v, src, err := api.layered.Explain(key)
	pv := PropertyValue{Value: v, Source: src}
	if err != nil {
		pv.Error = err.Error()
	}
	api.writeJSON(ctx, w, http.StatusOK, pv)
}

// HandleDelete removes a runtime override so lower layers apply again.
func (api *PropertiesAPI) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := api.knownKey(w, r)
	if !ok {
		return
	}
	if !api.runtime.Delete(key) {
		api.writeError(ctx, w, http.StatusNotFound, "no runtime override for "+key)
		return
	}
	if api.observer != nil {
		api.observer.IncRuntimePropertyWrite("delete")
	}
	api.logger.Info(ctx, "runtime property deleted", "key", key, "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (api *PropertiesAPI) knownKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if !slices.Contains(api.keys, key) {
		api.writeError(r.Context(), w, http.StatusNotFound, "unknown property "+key)
		return "", false
	}
	return key, true
}

func (api *PropertiesAPI) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	api.writeJSON(ctx, w, status, map[string]string{"error": msg})
}

func (api *PropertiesAPI) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
