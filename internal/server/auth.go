package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"streetrun/internal/engine"
	"streetrun/internal/engine/auth"
)

type AuthConfig struct {
	Signer   auth.Signer
	DevLogin bool
}

// Principal is the authenticated identity behind a request.
type Principal struct {
	Owner  string
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ownerFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Owner != "" {
		return p.Owner, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required")
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine, logger *slog.Logger) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range []string{"health", "openapi.json", "openapi.yaml", "docs"} {
		public[path.Join(basePath, p)] = true
	}
	if cfg.DevLogin {
		public[path.Join(basePath, "auth/dev/login")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials"))
					return
				}
				subject, err := cfg.Signer.Verify(token)
				if err != nil {
					logger.DebugContext(req.Context(), "token rejected", "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials"))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{Owner: subject, Source: "jwt"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			if apiKey != "" {
				owner, err := e.ResolveAPIKey(req.Context(), apiKey)
				if errors.Is(err, engine.ErrInvalidAPIKey) {
					logger.DebugContext(req.Context(), "api key rejected", "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials"))
					return
				}
				if err != nil {
					logger.ErrorContext(req.Context(), "api key lookup failed", "error", err)
					respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error"))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{Owner: owner, Source: "api_key"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required"))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	if h, ok := err.(interface{ GetHeaders() http.Header }); ok {
		for k, vs := range h.GetHeaders() {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
