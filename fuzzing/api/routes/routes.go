package routes

import (
	"net/http"

	"github.com/crytic/hydra/fuzzing/api/handlers"
	"github.com/gorilla/mux"
)

func attachWebsocketRoutes(router *mux.Router, campaign handlers.Campaign) {
	router.HandleFunc("/ws/fuzzing", handlers.WebsocketGetFuzzingInfoHandler(campaign)).Methods("GET")
}

func attachEnvRoutes(router *mux.Router, campaign handlers.Campaign) {
	router.HandleFunc("/env", handlers.GetEnvHandler(campaign)).Methods("GET")
}

func attachFuzzingRoutes(router *mux.Router, campaign handlers.Campaign) {
	router.HandleFunc("/fuzzing", handlers.GetFuzzingInfoHandler(campaign)).Methods("GET")
}

// AttachRoutes registers every route of the status API on router.
func AttachRoutes(router *mux.Router, campaign handlers.Campaign) {
	attachWebsocketRoutes(router, campaign)
	attachEnvRoutes(router, campaign)
	attachFuzzingRoutes(router, campaign)

	// Catch-all 404 handler
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFoundHandler)
}
