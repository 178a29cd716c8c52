package handlers

import (
	"net/http"

	"github.com/wayroute/authd/internal/handlers/authctx"
	"github.com/wayroute/authd/internal/handlers/render"
)

func handleMe() http.Handler {
	type response struct {
		UserID string   `json:"user_id"`
		Scopes []string `json:"scopes"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, _ := authctx.FromContext(r.Context())
		render.JSON(w, response{UserID: auth.UserID, Scopes: auth.Scopes})
	})
}
