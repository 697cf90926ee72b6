package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withBearer moves a bearer token into the request context. Requests without
// a token continue anonymously; the gate decides whether that is acceptable.
func withBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithToken(r.Context(), token)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

type guardedHandler func(w http.ResponseWriter, r *http.Request, caller auth.Identity)

// protect runs rule through the gate before h. resourceID extracts the
// instance the call targets, if any.
func (a *API) protect(rule gate.Rule, resourceID func(*http.Request) string, h guardedHandler) http.HandlerFunc {
	if err := rule.Validate(); err != nil {
		panic("httpapi: invalid rule: " + err.Error())
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req := gateRequest(r)
		if resourceID != nil {
			req.ResourceID = resourceID(r)
		}
		caller, err := a.gate.Authorize(r.Context(), rule, req)
		if err != nil {
			writeGateError(w, r, err)
			return
		}
		h(w, r.WithContext(auth.ContextWithIdentity(r.Context(), caller)), caller)
	}
}

func gateRequest(r *http.Request) gate.Request {
	attrs := map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if id := pathID(r); id != "" {
		attrs["id"] = id
	}
	for name, vals := range r.URL.Query() {
		if len(vals) > 0 {
			attrs["query."+name] = vals[0]
		}
	}
	return gate.Request{
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  RequestIDFromContext(r.Context()),
		Attributes: attrs,
	}
}

func pathID(r *http.Request) string { return r.PathValue("id") }
