package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/engine"
	"github.com/relaycrm/relay-go/internal/failure"
	"github.com/relaycrm/relay-go/internal/platform/auth"
	"github.com/relaycrm/relay-go/internal/platform/httpserver"
)

const maxBatchBytes = 8 << 20

type batchRunner interface {
	RunBatch(ctx context.Context, raw []byte) (engine.BatchResult, error)
	RunJobs(ctx context.Context, jobs []domain.Job) engine.BatchResult
}

type jobsAPI struct {
	logger *slog.Logger
	runner batchRunner
}

func newJobsAPI(logger *slog.Logger, runner batchRunner) *jobsAPI {
	return &jobsAPI{logger: logger, runner: runner}
}

func (api *jobsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs/batch", api.handleBatch)
}

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// handleBatch answers 200 whenever the batch was accepted, even if every job
// in it failed; per-job outcomes are in the results.
func (api *jobsAPI) handleBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	caller := "anonymous"
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id.Subject != "" {
		caller = id.Subject
	}

	result, err := api.runner.RunBatch(r.Context(), raw)
	if err != nil {
		if failure.Is(err, failure.KindValidation) {
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_batch",
				"details":    validationDetails(err),
				"request_id": requestID,
			})
			return
		}
		api.logger.Error("run batch", "request_id", requestID, "caller", caller, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.logger.Info("job batch processed",
		"request_id", requestID,
		"caller", caller,
		"jobs", len(result.Results),
		"failed", result.Failed(),
	)
	api.writeJSON(w, http.StatusOK, result)
}

func validationDetails(err error) []fieldDetail {
	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		return []fieldDetail{}
	}
	out := make([]fieldDetail, 0, len(ge.ValidationErrors))
	for _, fe := range ge.ValidationErrors {
		out = append(out, fieldDetail{Field: fe.Field, Message: fe.Message})
	}
	return out
}

func (api *jobsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *jobsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	})
}
