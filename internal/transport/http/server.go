package http

import (
	"context"
	"net/http"
	"time"

	"settlex/internal/service"
)

type Server struct {
	srv *http.Server
}

func NewServer(addr string, deals service.DealService, disputes service.DisputeService, settlements service.SettlementService) *Server {
	mux := http.NewServeMux()
	h := NewHandler(deals, disputes, settlements)
	h.Register(mux)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	return s.srv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
