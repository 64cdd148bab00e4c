package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/micro-nova/medialink/internal/models"
)

const (
	// APIKeyQueryParam carries the key for clients that cannot set headers,
	// such as a browser EventSource.
	APIKeyQueryParam = "api-key"
	bearerPrefix     = "Bearer "
)

// Middleware rejects requests without a valid access key unless the service
// is in open mode. The key is read from the Authorization header or the
// api-key query parameter.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get(APIKeyQueryParam)
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
			key = strings.TrimPrefix(h, bearerPrefix)
		}
		if name, ok := s.Verify(key); ok {
			slog.Debug("auth: request authorized", "key", name, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="medialink"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(models.ErrUnauthorized("missing or invalid access key"))
	})
}
