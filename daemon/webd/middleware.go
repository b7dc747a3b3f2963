package webd

import (
	"io"
	"net/http"
	"os"
	"time"

	ghandlers "github.com/gorilla/handlers"
)

// tokenAuthenticationMiddleware checks for a valid token in the Authorization header
// or the api_token query param, returning 403 Forbidden on mismatch.
// If no CATFUSE_TOKEN is set, it allows all requests.
func tokenAuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		validToken := os.Getenv("CATFUSE_TOKEN")
		if validToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("api_token")
		}
		if token != validToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func permissiveCorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// https://github.com/gorilla/mux#middleware
func (s *WebDaemon) loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p ghandlers.LogFormatterParams) {
		s.logger.Info("http",
			"method", p.Request.Method,
			"uri", p.URL.RequestURI(),
			"status", p.StatusCode,
			"size", p.Size,
			"remote", p.Request.RemoteAddr,
			"forwarded", p.Request.Header.Values("X-Forwarded-For"),
			"elapsed", time.Since(p.TimeStamp).Round(time.Millisecond))
	})
}
