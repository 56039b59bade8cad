package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// visitorCookie identifies the anonymous visitor so their cart survives
// between visits. The id is an opaque UUID, nothing about the visitor is
// stored in it.
const visitorCookie = "hl_visitor"

// visitorMaxAge matches roughly the backend's cart retention horizon with
// headroom, half a year.
const visitorMaxAge = 180 * 24 * 3600

type visitorKey struct{}

// visitorMiddleware assigns every request a visitor id, minting a fresh one
// when the cookie is missing or not a UUID.
func (s *Server) visitorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(visitorCookie); err == nil {
			if _, err := uuid.Parse(cookie.Value); err == nil {
				id = cookie.Value
			}
		}

		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     visitorCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   visitorMaxAge,
				HttpOnly: true,
				Secure:   !s.dev,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), visitorKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// visitorID returns the id placed by visitorMiddleware.
func visitorID(ctx context.Context) string {
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}
