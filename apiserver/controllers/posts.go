package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"quill-network/core"
)

const (
	defaultFeedLimit = 32
	maxFeedLimit     = 100
)

type postRequest struct {
	Body      string  `json:"body"`
	Reply     *string `json:"reply"`
	PublicKey string  `json:"public_key"`
	Signature string  `json:"signature"`
}

type feedReply struct {
	Feed []core.PostDetail `json:"feed"`
}

// CreatePost admits a post to the pending pool. Size and signature are
// validated on admission; authorship is checked when the block is mined.
func (c *Controller) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending := core.NewPendingBlock(
		core.PostData(req.Body, req.Reply),
		req.PublicKey,
		req.Signature,
	)
	if err := c.chain.PushMempool(pending); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	noContent(w)
}

// PostByHash retrieves one post, hydrated with its replies and parent.
func (c *Controller) PostByHash(w http.ResponseWriter, r *http.Request) {
	post, err := c.chain.GetPost(mux.Vars(r)["hash"])
	if err != nil || post == nil {
		writeError(w, http.StatusNotFound, "Post could not be found.")
		return
	}
	detail, err := c.chain.HydratePost(*post)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Feed retrieves hydrated posts, newest first. Repeated user parameters
// filter by author; without them the full feed is returned.
func (c *Controller) Feed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	usernames := query["user"]

	limit := queryInt(query.Get("limit"), defaultFeedLimit)
	if limit < 1 || limit > maxFeedLimit {
		limit = defaultFeedLimit
	}
	offset := queryInt(query.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	posts, err := c.chain.GetFeed(usernames, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	details, err := c.chain.HydrateFeed(posts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feedReply{Feed: details})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
