package routes

import (
	"github.com/gorilla/mux"

	"quill-network/apiserver/controllers"
	"quill-network/apiserver/middleware"
)

// Register wires every API route. The /users/h and /users/s routes are
// registered before the {public_key} routes so their prefixes are not
// captured as keys.
func Register(r *mux.Router, c *controllers.Controller) {
	r.Use(middleware.Logger)

	r.HandleFunc("/health", c.Health).Methods("GET")

	r.HandleFunc("/users", c.CreateUser).Methods("POST")
	r.HandleFunc("/users/h/{username}", c.UserByUsername).Methods("GET")
	r.HandleFunc("/users/s/{search}", c.SearchUsers).Methods("GET")
	r.HandleFunc("/users/{public_key}", c.UpdateUser).Methods("PUT")
	r.HandleFunc("/users/{public_key}", c.UserByPublicKey).Methods("GET")

	r.HandleFunc("/posts", c.CreatePost).Methods("POST")
	r.HandleFunc("/posts/{hash}", c.PostByHash).Methods("GET")
	r.HandleFunc("/feed", c.Feed).Methods("GET")

	r.HandleFunc("/link_preview", c.LinkPreview).Methods("GET")
}
