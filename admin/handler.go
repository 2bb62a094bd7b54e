// Package admin serves the operator view of a running server: health,
// metrics, live connections and a stream of connection lifecycle events.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kevinpollet/nego"
	"github.com/ridge/pistonen/telemetry"
	"github.com/ridge/pistonen/thttp"
	"github.com/ridge/pistonen/tlog"
	"github.com/ridge/pistonen/tws"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"time"
)

// Content types of /stats
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Stats is the /stats response
type Stats struct {
	Taken         time.Time         `json:"taken"`
	Connections   int               `json:"connections"`
	DroppedEvents uint64            `json:"droppedEvents"`
	Points        []telemetry.Point `json:"points"`
}

// Config holds the sources the handler reports on
type Config struct {
	Metrics  *telemetry.Metrics
	Registry *Registry
	Feed     *Feed

	// WebSocket is the configuration of /events sessions
	WebSocket tws.Config
}

// Handler returns the admin HTTP handler
func Handler(config Config) http.Handler {
	h := handler{config: config}

	router := mux.NewRouter()
	router.Handle("/healthz", thttp.Compress(http.HandlerFunc(h.healthz))).Methods(http.MethodGet)
	router.Handle("/stats", thttp.Compress(http.HandlerFunc(h.stats))).Methods(http.MethodGet)
	router.Handle("/connections", thttp.Compress(http.HandlerFunc(h.connections))).Methods(http.MethodGet)
	// hijacked connections cannot be compressed
	router.HandleFunc("/events", h.events).Methods(http.MethodGet)
	return router
}

type handler struct {
	config Config
}

func (h handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"})
}

func (h handler) stats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.config.Metrics.Snapshot(r.Context())
	if err != nil {
		tlog.Get(r.Context()).Error("Failed to collect stats", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats := Stats{
		Taken:         snapshot.Taken,
		Connections:   h.config.Registry.Len(),
		DroppedEvents: h.config.Feed.Dropped(),
		Points:        snapshot.Points,
	}

	switch nego.NegotiateContentType(r, ContentTypeJSON, ContentTypeProtobuf) {
	case ContentTypeProtobuf:
		msg, err := stats.proto()
		if err != nil {
			tlog.Get(r.Context()).Error("Failed to encode stats", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data, err := proto.Marshal(msg)
		if err != nil {
			tlog.Get(r.Context()).Error("Failed to encode stats", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentTypeProtobuf)
		_, _ = w.Write(data)
	default:
		writeJSON(r.Context(), w, stats)
	}
}

// proto converts stats to a protobuf Struct with the same shape as the
// JSON encoding
func (s Stats) proto() (*structpb.Struct, error) {
	points := make([]any, 0, len(s.Points))
	for _, p := range s.Points {
		point := map[string]any{
			"name":  p.Name,
			"value": p.Value,
		}
		if len(p.Attributes) > 0 {
			attrs := map[string]any{}
			for k, v := range p.Attributes {
				attrs[k] = v
			}
			point["attributes"] = attrs
		}
		if p.Count > 0 {
			point["count"] = p.Count
		}
		points = append(points, point)
	}
	return structpb.NewStruct(map[string]any{
		"taken":         s.Taken.UTC().Format(time.RFC3339Nano),
		"connections":   s.Connections,
		"droppedEvents": s.DroppedEvents,
		"points":        points,
	})
}

func (h handler) connections(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, h.config.Registry.List(r.URL.Query().Get("remote")))
}

// events streams the recent events followed by the live ones, one JSON
// text message per event
func (h handler) events(w http.ResponseWriter, r *http.Request) {
	tws.Serve(w, r, h.config.WebSocket, func(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
		recent, live := h.config.Feed.Subscribe(ctx)
		send := func(e Event) error {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			select {
			case outgoing <- tws.Message{Data: data}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, e := range recent {
			if err := send(e); err != nil {
				return err
			}
		}
		for {
			select {
			case e, ok := <-live:
				if !ok {
					return ctx.Err()
				}
				if err := send(e); err != nil {
					return err
				}
			case _, ok := <-incoming:
				// the client has nothing to say; it can only hang up
				if !ok {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		tlog.Get(ctx).Debug("Failed to write response", zap.Error(err))
	}
}
