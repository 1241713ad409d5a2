package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/storage"
)

// LocationPublisher forwards driver location reports to the location stream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// Geocoder backs the maps endpoints and address parameters.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.Coord, error)
	Suggest(ctx context.Context, input string) ([]string, error)
}

type Payments interface {
	CreateRideIntent(ctx context.Context, r models.Ride) (payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	ParseWebhook(payload []byte, signature string) (payments.Confirmation, bool, error)
}

// Deps are the collaborators of the HTTP surface. Locations, Geocoder and
// Payments are optional.
type Deps struct {
	Rides      *dispatch.Coordinator
	Geo        geo.Geo
	Profiles   storage.ProfileStore
	Directory  *directory.Directory
	Auth       *auth.Verifier
	Route      route.Estimator
	Locations  LocationPublisher
	Geocoder   Geocoder
	Payments   Payments
	Ready      map[string]func(context.Context) error
	SendBuffer int
	Logger     *slog.Logger
}

type Server struct {
	Deps
	mux    *mux.Router
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: d, mux: mux.NewRouter(), logger: logger, now: time.Now}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws", s.handleWS)
	// Stripe authenticates with its signature header, not a bearer token.
	s.mux.HandleFunc("/api/v1/payments/webhook", s.handlePaymentWebhook).Methods(http.MethodPost)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/fare", s.handleFare).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/payment-intent", s.handlePaymentIntent).Methods(http.MethodPost)

	api.HandleFunc("/me/rides", s.handleMyRides).Methods(http.MethodGet)
	api.HandleFunc("/me/profile", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/me/profile", s.handlePutProfile).Methods(http.MethodPut)

	api.HandleFunc("/drivers/me/status", s.handleDriverStatus).Methods(http.MethodPatch)
	api.HandleFunc("/drivers/me/location", s.handleMyLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/me/summary", s.handleSummary).Methods(http.MethodGet)

	api.HandleFunc("/maps/coordinates", s.handleCoordinates).Methods(http.MethodGet)
	api.HandleFunc("/maps/distance-time", s.handleDistanceTime).Methods(http.MethodGet)
	api.HandleFunc("/maps/suggestions", s.handleSuggestions).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.Ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
