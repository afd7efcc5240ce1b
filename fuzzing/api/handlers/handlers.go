// Package handlers serves the read-only views of a running campaign.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/crytic/hydra/fuzzing"
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/medusa-geth/common"
	"github.com/gorilla/websocket"
)

// StreamInterval is how often websocket clients receive a fresh snapshot.
var StreamInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Campaign is the view of the fuzzer the handlers read. Every method must be safe to call while fuzzing.
type Campaign interface {
	Config() config.ProjectConfig
	SenderAddresses() []common.Address
	DeployerAddress() common.Address
	Metrics() fuzzing.MetricsSnapshot
	Solutions() []fuzzing.Solution
}

// EnvInfo is the response of the env route.
type EnvInfo struct {
	Config   config.ProjectConfig `json:"config"`
	Senders  []common.Address     `json:"senders"`
	Deployer common.Address       `json:"deployer"`
}

// SolutionInfo is one reported finding and the sequence reproducing it.
type SolutionInfo struct {
	Finding  oracles.Finding `json:"finding"`
	Sequence string          `json:"sequence"`
	Path     string          `json:"path,omitempty"`
}

// FuzzingInfo is the response of the fuzzing route.
type FuzzingInfo struct {
	Metrics   fuzzing.MetricsSnapshot `json:"metrics"`
	Solutions []SolutionInfo          `json:"solutions"`
}

// GetFuzzingInfo collects the current metrics and solutions of campaign.
func GetFuzzingInfo(campaign Campaign) FuzzingInfo {
	solutions := campaign.Solutions()
	info := FuzzingInfo{Metrics: campaign.Metrics(), Solutions: make([]SolutionInfo, 0, len(solutions))}
	for _, solution := range solutions {
		info.Solutions = append(info.Solutions, SolutionInfo{
			Finding:  solution.Finding,
			Sequence: solution.Sequence.String(),
			Path:     solution.Path,
		})
	}
	return info
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetEnvHandler serves the configuration and accounts of the campaign.
func GetEnvHandler(campaign Campaign) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, EnvInfo{
			Config:   campaign.Config(),
			Senders:  campaign.SenderAddresses(),
			Deployer: campaign.DeployerAddress(),
		})
	}
}

// GetFuzzingInfoHandler serves the metrics and solutions of the campaign.
func GetFuzzingInfoHandler(campaign Campaign) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, GetFuzzingInfo(campaign))
	}
}

// WebsocketGetFuzzingInfoHandler streams the fuzzing info to a websocket client every StreamInterval until the client
// goes away or the request is cancelled.
func WebsocketGetFuzzingInfoHandler(campaign Campaign) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Reads detect the client closing the connection.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(StreamInterval)
		defer ticker.Stop()
		for {
			if err := conn.WriteJSON(GetFuzzingInfo(campaign)); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// NotFoundHandler answers unknown routes.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{"error": "Not Found"})
}
