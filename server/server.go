package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"breeze-device/breeze"
)

// Server exposes the engine's status and event stream over HTTP for
// fleet tooling and local debugging.
type Server struct {
	port       int
	version    string
	engine     *breeze.Engine
	router     *mux.Router
	httpServer *http.Server
}

func New(port int, version string, engine *breeze.Engine) *Server {
	s := &Server{
		port:    port,
		version: version,
		engine:  engine,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/adv", s.handleAdv).Methods("GET")
	api.HandleFunc("/adv/restart", s.handleAdvRestart).Methods("POST")
	api.HandleFunc("/post", s.handlePost).Methods("POST")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("Context done, shutting down HTTP server")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("Starting status server on port %d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Info("HTTP server closed cleanly")
		return nil
	}
	log.Errorf("HTTP server error: %v", err)
	return err
}
