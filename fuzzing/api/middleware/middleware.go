// Package middleware wraps every route of the status API.
package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// allowAnyOrigin lets browser dashboards on other origins read the API. Nothing it serves needs credentials.
func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		next.ServeHTTP(w, r)
	})
}

// jsonContent marks plain responses as JSON. Websocket handshakes are left to the upgrader.
func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// AttachMiddleware installs the status API middleware on router.
func AttachMiddleware(router *mux.Router) {
	router.Use(allowAnyOrigin, jsonContent)
}
