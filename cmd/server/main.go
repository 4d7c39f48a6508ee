package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clheure/relay/internal/config"
	internalhttp "clheure/relay/internal/http"
	"clheure/relay/internal/portal"
	"clheure/relay/internal/schedule"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge, err := portal.NewBridgeClient(cfg.PortalBridgeURL, cfg.PortalToken, cfg.PortalTimeout)
	if err != nil {
		log.Fatalf("portal client init failed: %v", err)
	}
	service := schedule.NewService(bridge, cfg.DefaultAuthMethod, cfg.PortalTimeout)

	server := internalhttp.NewServer(service)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		log.Printf("relay http listening on %s (portal bridge %s)", cfg.HTTPAddr, cfg.PortalBridgeURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
