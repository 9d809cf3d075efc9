// Package controllers implements the HTTP handlers of the node API. Every
// controller reads and writes through the shared chain handle; writes are
// admitted to the pending pool and mined asynchronously.
package controllers

import (
	"encoding/json"
	"net/http"

	"quill-network/core"
)

// Controller bundles the handlers around the shared chain handle.
type Controller struct {
	chain *core.Chain
}

// New builds a controller over the given chain.
func New(chain *core.Chain) *Controller {
	return &Controller{chain: chain}
}

type errorReply struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorReply{Message: message})
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}
