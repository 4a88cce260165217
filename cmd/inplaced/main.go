// Command inplaced is the development harness for the embeddable client: a
// local content API with the same routes and error contract as the hosted
// service, backed by sqlite or any S3-compatible bucket, plus a websocket
// feed that pushes saves to preview pages.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/contentstore"
	"github.com/inplacehq/inplace/internal/hub"
	"github.com/inplacehq/inplace/internal/logger"
	"github.com/inplacehq/inplace/internal/model"
)

var log zerolog.Logger

var store contentstore.Store
var events = hub.NewHub()

// apiKey is the single bearer credential the harness accepts.
var apiKey string

func main() {
	dotenvErr := godotenv.Load()

	log = logger.New(envOr("INPLACED_LOG_LEVEL", "debug")).With().
		Str("component", "inplaced").Logger()
	if dotenvErr != nil {
		log.Debug().Msg("No .env file loaded")
	}
	contentstore.SetLogger(log.With().Str("component", "contentstore").Logger())
	hub.SetLogger(log.With().Str("component", "hub").Logger())

	apiKey = envOr("INPLACED_KEY", "dev-key")

	var err error
	if endpoint := os.Getenv("INPLACED_S3_ENDPOINT"); endpoint != "" {
		store, err = contentstore.NewS3Store(
			os.Getenv("INPLACED_S3_KEY_ID"),
			os.Getenv("INPLACED_S3_SECRET"),
			endpoint,
			envOr("INPLACED_S3_BUCKET", "inplace-content"),
		)
	} else {
		store, err = contentstore.NewSQLiteStore(envOr("INPLACED_DB", "./inplaced.db"))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing content store")
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /apps/{app}/content", serveContentList)
	mux.HandleFunc("PUT /apps/{app}/content/{id}", withAuth(serveContentPut))
	mux.HandleFunc("DELETE /apps/{app}/content/{id}", withAuth(serveContentDelete))
	mux.HandleFunc("GET /apps/{app}/keys/@me", serveKeyInfo)
	mux.HandleFunc("GET /apps/{app}/members/@me", withAuth(serveMember))
	mux.HandleFunc("GET /apps/{app}/events", serveEvents)

	addr := envOr("INPLACED_ADDR", ":8787")
	log.Info().Str("addr", addr).Msg("Starting inplaced")
	if err := http.ListenAndServe(addr, withRequestID(secureHeaders(mux.ServeHTTP))); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func appID(r *http.Request) model.AppID {
	return model.AppID(r.PathValue("app"))
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+apiKey
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func serveContentList(w http.ResponseWriter, r *http.Request) {
	entries, err := store.List(r.Context(), appID(r))
	if err != nil {
		log.Error().Err(err).Msg("Error listing content")
		http.Error(w, "error listing content", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func serveContentPut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	app := appID(r)
	key := model.Key(r.PathValue("id"))
	if err := store.Put(r.Context(), app, key, body.Content); err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("Error storing content")
		http.Error(w, "error storing content", http.StatusInternalServerError)
		return
	}

	events.Broadcast(app, hub.SavedEvent(key, body.Content))
	w.WriteHeader(http.StatusOK)
}

func serveContentDelete(w http.ResponseWriter, r *http.Request) {
	app := appID(r)
	key := model.Key(r.PathValue("id"))
	if err := store.Delete(r.Context(), app, key); err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("Error deleting content")
		http.Error(w, "error deleting content", http.StatusInternalServerError)
		return
	}

	events.Broadcast(app, hub.DeletedEvent(key))
	w.WriteHeader(http.StatusOK)
}

func serveKeyInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, model.KeyInfo{Valid: authorized(r)})
}

func serveMember(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, model.Member{
		ID: "dev-user",
		Role: model.Role{
			Name:        "author",
			Permissions: model.Permissions{"content:read", "content:write"},
		},
	})
}

func serveEvents(w http.ResponseWriter, r *http.Request) {
	events.ServeWS(w, r, appID(r))
}

func withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func withRequestID(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request")
		h(w, r)
	}
}

func secureHeaders(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		h(w, r)
	}
}
