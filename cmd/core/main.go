// Package main wires the FieldSync engine: local SQLite store, REST remote
// client, sync queue, scheduler and the status WebSocket hub. The mobile UI
// shell talks to this process over localhost HTTP.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/probuild/fieldsync/internal/ident"
	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/media"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/notify"
	"github.com/probuild/fieldsync/internal/remote"
	"github.com/probuild/fieldsync/internal/store"
	syncpkg "github.com/probuild/fieldsync/internal/sync"
	"github.com/probuild/fieldsync/internal/sync/queue"
	"github.com/probuild/fieldsync/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)
	logging.Info("FieldSync core starting", map[string]interface{}{"version": Version})

	dataDir := envOr("FIELDSYNC_DATA_DIR", "./data")
	endpoint := os.Getenv("FIELDSYNC_REMOTE_ENDPOINT")
	apiKey := os.Getenv("FIELDSYNC_REMOTE_API_KEY")
	userID := os.Getenv("FIELDSYNC_USER_ID")
	listenAddr := envOr("FIELDSYNC_LISTEN_ADDR", "127.0.0.1:8090")

	kv, err := store.OpenSQLite(dataDir)
	if err != nil {
		logging.Error("Failed to open local store", err, nil)
		os.Exit(1)
	}
	defer kv.Close()

	records := store.NewRecords(kv)

	var session remote.Session = &remote.StaticSession{}
	if userID != "" {
		session = &remote.StaticSession{User: &remote.User{ID: userID}}
	}

	rest := remote.NewRESTClient(&remote.RESTConfig{
		Endpoint: endpoint,
		APIKey:   apiKey,
	})

	reconciler := syncpkg.NewReconciler(
		rest,
		session,
		ident.NewNormalizer(records),
		media.NewPreparer(nil),
	)

	q, err := queue.New(kv, nil)
	if err != nil {
		logging.Error("Failed to restore sync queue", err, nil)
		os.Exit(1)
	}

	sched := scheduler.New(reconciler, q, records, kv, session, nil)

	hub := notify.NewHub()
	sched.Subscribe(hub.BroadcastStatus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sched.Status())
	})

	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		res := sched.ForceSync(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	})

	mux.HandleFunc("/enqueue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Record *models.WorkRecord `json:"record"`
			Action models.SyncAction  `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Record == nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := records.Put(req.Record); err != nil {
			http.Error(w, "failed to persist record", http.StatusInternalServerError)
			return
		}
		if err := sched.Enqueue(req.Record, req.Action); err != nil {
			http.Error(w, "failed to enqueue", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	// Platform glue reports connectivity and lifecycle transitions here.
	mux.HandleFunc("/online", func(w http.ResponseWriter, r *http.Request) {
		sched.SetOnline(r.URL.Query().Get("state") != "false")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/foreground", func(w http.ResponseWriter, r *http.Request) {
		sched.SetForeground(r.URL.Query().Get("state") != "false")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/signout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := sched.ClearQueue(); err != nil {
			http.Error(w, "failed to clear queue", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		logging.Info("Engine API listening", map[string]interface{}{"addr": listenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err, nil)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	logging.Info("FieldSync core shutting down", nil)
	server.Shutdown(context.Background())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
