package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"quill-network/core"
)

type userRequest struct {
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	Biography   string `json:"biography"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
}

type userUpdateRequest struct {
	DisplayName string `json:"display_name"`
	Biography   string `json:"biography"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
}

// CreateUser admits a user registration to the pending pool. Username and
// public key uniqueness are pre-checked against the index; the chain
// re-checks both when the block is mined.
func (c *Controller) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taken, err := c.chain.HasUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if taken {
		writeError(w, http.StatusUnprocessableEntity, "Username is already taken.")
		return
	}

	taken, err = c.chain.HasPubkey(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if taken {
		writeError(w, http.StatusUnprocessableEntity, "Public key is already taken.")
		return
	}

	pending := core.NewPendingBlock(
		core.UserData(req.DisplayName, req.Username, req.Biography),
		req.PublicKey,
		req.Signature,
	)
	if err := c.chain.PushMempool(pending); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	noContent(w)
}

// UpdateUser admits a profile update. The path key must match the signing
// key of the body.
func (c *Controller) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if mux.Vars(r)["public_key"] != req.PublicKey {
		writeError(w, http.StatusUnauthorized, "Public key mismatch.")
		return
	}

	pending := core.NewPendingBlock(
		core.UserUpdateData(req.DisplayName, req.Biography),
		req.PublicKey,
		req.Signature,
	)
	if err := c.chain.PushMempool(pending); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	noContent(w)
}

// UserByPublicKey retrieves a user's profile by public key.
func (c *Controller) UserByPublicKey(w http.ResponseWriter, r *http.Request) {
	user, err := c.chain.GetUserByPublicKey(mux.Vars(r)["public_key"])
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User could not be found.")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UserByUsername retrieves a user's profile by username.
func (c *Controller) UserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := c.chain.GetUserByUsername(mux.Vars(r)["username"])
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User could not be found.")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SearchUsers finds users by username substring.
func (c *Controller) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.chain.SearchUsers(mux.Vars(r)["search"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}
