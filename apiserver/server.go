// Package apiserver exposes the node's read/write HTTP façade. Routes,
// controllers and middleware live in their own subpackages, wired together
// here behind a permissive CORS handler.
package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"quill-network/apiserver/controllers"
	"quill-network/apiserver/routes"
	"quill-network/core"
)

// Server serves the HTTP API over a shared chain handle.
type Server struct {
	srv *http.Server
}

// New builds the API server listening on addr.
func New(chain *core.Chain, addr string) *Server {
	ctrl := controllers.New(chain)
	r := mux.NewRouter()
	routes.Register(r, ctrl)

	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: cors.AllowAll().Handler(r),
		},
	}
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Running api on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
