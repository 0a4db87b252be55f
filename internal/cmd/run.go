package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/account"
	"github.com/firdyfirdy/antigravity-auth/internal/api"
	"github.com/firdyfirdy/antigravity-auth/internal/auth/store"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	"github.com/firdyfirdy/antigravity-auth/internal/service"
	"github.com/firdyfirdy/antigravity-auth/internal/watcher"
	log "github.com/sirupsen/logrus"
)

// StartService assembles the account pool, gateway service, and HTTP
// server, then blocks until an interrupt arrives. The account storage
// file is watched so logins from another process join the running pool.
func StartService(cfg *config.Config) {
	st := store.New(cfg.StoragePath)
	pool, err := account.NewManager(st)
	if err != nil {
		log.Fatalf("failed to load account storage: %v", err)
		return
	}
	if pool.Len() == 0 {
		log.Warn("No accounts configured. Run with --login to add one.")
	} else {
		log.Infof("Loaded %d account(s) from %s", pool.Len(), st.Path())
	}

	svc := service.New(cfg, pool)
	apiServer := api.NewServer(cfg, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := watcher.NewWatcher(st.Path(), func() {
		if reloadErr := pool.Reload(); reloadErr != nil {
			log.Warnf("failed to reload account storage: %v", reloadErr)
			return
		}
		log.Infof("Account storage reloaded, %d account(s) in pool", pool.Len())
	})
	if err != nil {
		log.Warnf("failed to create storage watcher: %v", err)
	} else if err = w.Start(ctx); err != nil {
		log.Warnf("failed to start storage watcher: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start()
	}()
	log.Infof("Gateway listening on port %d", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil {
			log.Fatalf("API server error: %v", err)
		}
	case sig := <-sigChan:
		log.Infof("Received signal %v, shutting down...", sig)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err = apiServer.Stop(shutdownCtx); err != nil {
		log.Errorf("failed to stop API server: %v", err)
	}
}
