package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/mvrga/speer/internal/export"
	"github.com/mvrga/speer/internal/ledger"
	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/services"
)

var (
	exportInstance *services.ExportFunction
	once           sync.Once
	initErr        error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	functions.HTTP("HandleExportRun", handleExportRun)
}

// main is required by the Go Functions Framework.
func main() {}

func handleExportRun(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		exportInstance, initErr = services.NewExportFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ExportRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	summary, err := exportInstance.Process(r.Context(), &req)
	switch {
	case errors.Is(err, ledger.ErrRunNotFound):
		http.Error(w, "Not Found: unknown run", http.StatusNotFound)
		return
	case errors.Is(err, export.ErrRunOpen):
		http.Error(w, "Conflict: run is still open", http.StatusConflict)
		return
	case err != nil:
		// The specific error is already logged inside the Process method.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
