package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"nexusdao/internal/domain"
	"nexusdao/internal/engine"
	"nexusdao/internal/identity"
)

type callerKey struct{}

func withCaller(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

func callerFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(domain.Identity)
	return id, ok && id != ""
}

// requireCaller returns the resolved caller or a 401 envelope.
func requireCaller(ctx context.Context) (domain.Identity, huma.StatusError) {
	if id, ok := callerFromContext(ctx); ok {
		return id, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware resolves credentials when a request carries any.
// Presented but invalid credentials fail with 401 here; requests without
// credentials continue anonymously and handlers decide.
func newAuthMiddleware(basePath string, resolver identity.Resolver, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			creds := identity.Credentials{APIKey: strings.TrimSpace(req.Header.Get("X-Api-Key"))}
			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthenticated", "malformed Authorization header; expected Bearer <token>", nil))
					return
				}
				creds.BearerToken = token
			}
			if creds.Empty() {
				next.ServeHTTP(w, req)
				return
			}
			caller, err := resolver.ResolveCaller(req.Context(), creds)
			if err != nil {
				log.Warn().Err(err).Str("path", req.URL.Path).Msg("authentication rejected")
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthenticated", "invalid credentials", nil))
				return
			}
			ctx := withCaller(req.Context(), caller)
			l := zerolog.Ctx(ctx).With().Str("caller", string(caller)).Logger()
			next.ServeHTTP(w, req.WithContext(l.WithContext(ctx)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerAuth(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Create the caller's profile",
		Description:   "Password mode: anonymous, mints a new identity and returns a session token. Delegated mode: registers the authenticated caller.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		var (
			profile domain.UserProfile
			err     error
		)
		if cfg.Sessions != nil {
			if input.Body.Password == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "password is required", nil)
			}
			profile, err = e.RegisterWithPassword(ctx, input.Body.Username, input.Body.Role, input.Body.Password)
		} else {
			caller, authErr := requireCaller(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if input.Body.Password != "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "password is not accepted in delegated mode; the platform authenticates callers", nil)
			}
			profile, err = e.Register(ctx, engine.RegisterOptions{
				Identity: caller,
				Username: input.Body.Username,
				Role:     input.Body.Role,
			})
		}
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp, err := sessionResponse(cfg.Sessions, profile)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: resp}, nil
	})

	if cfg.Sessions == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange username and password for a session token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		profile, err := e.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp, err := sessionResponse(cfg.Sessions, profile)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func sessionResponse(sessions *identity.SessionIssuer, profile domain.UserProfile) (SessionResponse, error) {
	resp := SessionResponse{Profile: profileResponse(profile, nil)}
	if sessions == nil {
		return resp, nil
	}
	token, exp, err := sessions.Issue(profile.Identity)
	if err != nil {
		return resp, fmt.Errorf("issue session token: %w", err)
	}
	resp.Token = token
	resp.ExpiresAt = exp.UTC().Format(time.RFC3339)
	return resp, nil
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller's profile",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		caller, authErr := requireCaller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile, err := e.GetProfile(ctx, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		perms, err := e.Auth.Permissions(ctx, caller)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(profile, perms)}, nil
	})
}
