// Package api serves a read-only HTTP and websocket view of a running campaign.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/crytic/hydra/fuzzing/api/handlers"
	"github.com/crytic/hydra/fuzzing/api/middleware"
	"github.com/crytic/hydra/fuzzing/api/routes"
	"github.com/crytic/hydra/logging"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// portAttempts is how many consecutive ports are tried before giving up.
const portAttempts = 10

// NewRouter creates the router of the status API for campaign.
func NewRouter(campaign handlers.Campaign) *mux.Router {
	router := mux.NewRouter()
	middleware.AttachMiddleware(router)
	routes.AttachRoutes(router, campaign)
	return router
}

// Listen binds the first free port starting at port, trying up to portAttempts ports.
func Listen(port int) (net.Listener, error) {
	var err error
	for i := 0; i < portAttempts; i++ {
		var listener net.Listener
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port+i))
		if err == nil {
			return listener, nil
		}
	}
	return nil, errors.Wrapf(err, "no free port in %d-%d", port, port+portAttempts-1)
}

// Start serves the status API of campaign on the configured port until ctx is done.
func Start(ctx context.Context, campaign handlers.Campaign) error {
	logger := logging.GlobalLogger.NewSubLogger("module", "api")

	listener, err := Listen(campaign.Config().Api.Port)
	if err != nil {
		logger.Error("Failed to start the status API", err)
		return err
	}
	logger.Info("Status API listening on http://", listener.Addr().String())
	return Serve(ctx, listener, NewRouter(campaign))
}

// Serve serves handler on listener until ctx is done, then shuts the server down.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	// Request contexts derive from ctx, which ends websocket streams with the server.
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErrorChan := make(chan error, 1)
	go func() {
		serverErrorChan <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return server.Close()
		}
		return nil
	case err := <-serverErrorChan:
		return errors.WithStack(err)
	}
}
