// Package httpapi is the Captain's REST surface: crew and chore listing,
// chore submission and cancellation, sailor preregistration and
// deregistration, sailor heartbeats, user administration, and the
// healthz/metrics probes.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hugodecasta/captain/internal/chore"
	"github.com/hugodecasta/captain/internal/control"
	"github.com/hugodecasta/captain/internal/crew"
	"github.com/hugodecasta/captain/internal/user"
	"github.com/hugodecasta/captain/pkg/metrics"
)

// API bundles the registries and control loop the handlers operate on.
type API struct {
	Crew   *crew.Registry
	Chores *chore.Registry
	Users  *user.Registry
	Loop   *control.Loop
}

// Router builds the chi router exposing the Captain HTTP surface.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Get("/api/crew/", a.handleListCrew)
	r.Get("/crew", a.handleListCrew)
	r.Delete("/crew/{name}", a.handleDeregisterSailor)

	r.Get("/api/chores/", a.handleListChores)
	r.Get("/me/chores", a.handleListChores)

	r.Post("/chore", a.handleSubmitChore)
	r.Post("/cancel", a.handleCancelChore)
	r.Post("/prereg", a.handlePreregister)
	r.Post("/heartbeat", a.handleHeartbeat)

	r.Get("/users", a.handleListUsers)
	r.Post("/user-set", a.handleUserSet)

	return r
}
