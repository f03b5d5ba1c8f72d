package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// journalReader is the part of the Journal the HTTP API needs.
type journalReader interface {
	Recent(ctx context.Context, limit int) ([]JournalRecord, error)
}

// runHTTPServer serves mux on port and shuts down gracefully when ctx is canceled.
func runHTTPServer(ctx context.Context, port int, mux *http.ServeMux, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "port", port)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// journalHandler serves GET /journal?limit=N with the most recent records first.
func journalHandler(journal journalReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}

		limit := defaultJournalLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxJournalLimit)
		}

		records, err := journal.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("journal query failed", "error", err)
			http.Error(w, "journal query failed", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []JournalRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logger.Warn("journal response write failed", "error", err)
		}
	}
}

// stateHandler serves GET /state with a snapshot taken through the event loop.
func stateHandler(events chan<- Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		reply := make(chan StateSnapshot, 1)
		if err := sendEvent(ctx, events, RequestStateSnapshot{Reply: reply}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		select {
		case snap := <-reply:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		case <-ctx.Done():
			http.Error(w, "timed out waiting for state", http.StatusServiceUnavailable)
		}
	}
}
