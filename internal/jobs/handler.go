package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustledger/pkg/platform/httputil"
	"trustledger/pkg/requestcontext"
)

// Trigger runs registered jobs on demand.
type Trigger interface {
	Names() []string
	Trigger(ctx context.Context, name string) (any, error)
}

// Handler exposes manual job runs over HTTP.
type Handler struct {
	jobs   Trigger
	logger *slog.Logger
}

func NewHandler(jobs Trigger, logger *slog.Logger) *Handler {
	return &Handler{jobs: jobs, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/jobs", h.HandleList)
	r.Post("/jobs/{name}", h.HandleTrigger)
}

// RunResponse is the body of a manual job run.
type RunResponse struct {
	Job     string `json:"job"`
	Summary any    `json:"summary"`
}

func (h *Handler) HandleList(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"jobs": h.jobs.Names()})
}

// HandleTrigger handles POST /jobs/{name}. The run is attributed to the
// calling actor and a job that is already running answers 409.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	h.logger.InfoContext(ctx, "manual job run",
		"job", name,
		"actor_id", requestcontext.ActorID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	summary, err := h.jobs.Trigger(ctx, name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RunResponse{Job: name, Summary: summary})
}
