// Package api implements §6's Admin REST collaborator: JSON over HTTP
// on config.webport, one resource per entity in §3's data model, bearer
// token authenticated against config.apitoken. Grounded on the
// teacher's internal/api/server.go chi wiring (middleware stack, CORS,
// Bearer auth), with the JWT layer repurposed from a user-login session
// into a short-lived convenience token over the single shared apitoken.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/config"
	"github.com/lorawan-server/floranet-ns/internal/engine"
	"github.com/lorawan-server/floranet-ns/internal/gatewaywan"
	"github.com/lorawan-server/floranet-ns/internal/ifmanager"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

// RESTServer is the admin HTTP listener on config.webport.
type RESTServer struct {
	cfg      *config.Manager
	store    storage.Store
	registry *gatewaywan.Registry
	ifaces   *ifmanager.Manager
	engine   *engine.Engine
	auth     *Authenticator

	router chi.Router
	server *http.Server
}

// NewRESTServer wires the admin surface to the engine's live
// collaborators. eng may be nil in tests that only exercise handlers
// which don't touch Reload.
func NewRESTServer(cfg *config.Manager, store storage.Store, registry *gatewaywan.Registry, ifaces *ifmanager.Manager, eng *engine.Engine) (*RESTServer, error) {
	auth, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	s := &RESTServer{
		cfg:      cfg,
		store:    store,
		registry: registry,
		ifaces:   ifaces,
		engine:   eng,
		auth:     auth,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/system", s.handleGetSystem)
		r.Put("/system", s.handlePutSystem)
		r.Post("/system/token", s.handleIssueToken)

		r.Get("/device/{deveui}", s.handleGetDevice)
		r.Put("/device/{deveui}", s.handlePutDevice)
		r.Delete("/device/{deveui}", s.handleDeleteDevice)
		r.Get("/devices", s.handleListDevices)
		r.Post("/devices", s.handleCreateDevice)

		r.Get("/app/{appeui}", s.handleGetApplication)
		r.Put("/app/{appeui}", s.handlePutApplication)
		r.Delete("/app/{appeui}", s.handleDeleteApplication)
		r.Get("/apps", s.handleListApplications)
		r.Post("/apps", s.handleCreateApplication)

		r.Get("/gateway/{host}", s.handleGetGateway)
		r.Put("/gateway/{host}", s.handlePutGateway)
		r.Delete("/gateway/{host}", s.handleDeleteGateway)
		r.Get("/gateways", s.handleListGateways)
		r.Post("/gateways", s.handleCreateGateway)

		r.Get("/interface/{id}", s.handleGetInterface)
		r.Put("/interface/{id}", s.handlePutInterface)
		r.Delete("/interface/{id}", s.handleDeleteInterface)
		r.Get("/interfaces", s.handleListInterfaces)
		r.Post("/interfaces", s.handleCreateInterface)

		r.Get("/property/{appeui}", s.handleGetProperty)
		r.Put("/property/{appeui}", s.handlePutProperty)
		r.Delete("/property/{appeui}", s.handleDeleteProperty)
		r.Get("/propertys", s.handleListProperties)
		r.Post("/propertys", s.handleCreateProperty)

		r.Get("/status/stream", s.handleStatusStream)
	})
}

// ListenAndServe blocks serving the admin API on addr.
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("api: admin REST listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the admin API.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware enforces §6: a caller presents either
// `Authorization: <token>` (a raw apitoken or a "Bearer <jwt>" session
// token) or a `token` field in the JSON body. The body is buffered and
// restored so the resource handler can still decode its own payload.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		if presented == "" && r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
			presented = bodyTokenField(body)
		}

		if !s.auth.Authenticate(presented) {
			s.respondError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *RESTServer) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.auth.IssueToken()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"token": tok})
}
