package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/service"
)

const asyncRetention = time.Hour

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API.

Endpoints:
  POST   /execute                    execute a batch and wait for the report
  POST   /execute/async              start a batch, returns an execution id
  GET    /executions                 list async executions
  GET    /executions/{id}            status of an async execution
  GET    /executions/{id}/result     report of a finished async execution
  DELETE /executions/{id}            cancel an async execution
  GET    /healthz                    liveness
  GET    /metrics                    Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, useFake)
	if err != nil {
		return err
	}
	defer a.Close()
	a.defineFlows()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(a.service, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.service.CleanupCompletedExecutions(asyncRetention); n > 0 {
					a.logger.Debug("Removed finished async executions", "count", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", cfg.Server.Addr, "fake_api", useFake)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func newHandler(svc *service.Service, logger *slog.Logger) http.Handler {
	h := &handler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", h.execute)
	mux.HandleFunc("POST /execute/async", h.executeAsync)
	mux.HandleFunc("GET /executions", h.list)
	mux.HandleFunc("GET /executions/{id}", h.status)
	mux.HandleFunc("GET /executions/{id}/result", h.result)
	mux.HandleFunc("DELETE /executions/{id}", h.cancel)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type errorBody struct {
	Error     string                       `json:"error"`
	Code      string                       `json:"code,omitempty"`
	Completed []actionflow.ExecutionResult `json:"completed,omitempty"`
	Response  *actionflow.Response         `json:"response,omitempty"`
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request) (actionflow.ExecuteRequest, bool) {
	var req actionflow.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	return req, true
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, resp, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *handler) executeAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	id, err := h.svc.ExecuteAsync(r.Context(), req)
	if err != nil {
		h.fail(w, nil, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.svc.ListAsyncExecutions())
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.PathValue("id"))
	if err != nil {
		respond(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	respond(w, http.StatusOK, status)
}

func (h *handler) result(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.svc.Status(id)
	if err != nil {
		respond(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	resp, err := h.svc.Result(id)
	switch {
	case err == nil:
		respond(w, http.StatusOK, resp)
	case status.CurrentState != service.StateError && status.CurrentState != service.StateCancelled:
		respond(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		h.fail(w, resp, err)
	}
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.Cancel(r.PathValue("id"))
	if err != nil {
		respond(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// fail maps actionflow error codes onto HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, resp *actionflow.Response, err error) {
	body := errorBody{Error: err.Error(), Code: actionflow.CodeOf(err), Response: resp}

	var d *actionflow.DeadlockError
	if errors.As(err, &d) {
		body.Completed = d.Completed
	}

	status := http.StatusInternalServerError
	switch body.Code {
	case actionflow.ErrCodePlanning, actionflow.ErrCodeToolNotFound, actionflow.ErrCodeDeadlock:
		status = http.StatusUnprocessableEntity
	case actionflow.ErrCodeConfiguration:
		status = http.StatusBadRequest
	case actionflow.ErrCodeCancelled:
		status = http.StatusRequestTimeout
	default:
		h.logger.Error("Batch execution failed", "error", err)
	}
	respond(w, status, body)
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
