package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/common"
)

// Roles carried in the token's role claim. Issuing tokens is the auth
// service's job; this package only verifies them.
const (
	RoleTeam  = "team"
	RoleAdmin = "admin"
)

type contextKey string

const (
	actorIDCtxKey   contextKey = "actorID"
	actorRoleCtxKey contextKey = "actorRole"
)

// Actor is the verified identity behind a request or connection. For team
// tokens the ID is the team id; for admin tokens it is the admin's user id.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Auth verifies HS256 tokens minted by the external auth service.
type Auth struct {
	tokenAuth *jwtauth.JWTAuth
}

func New(secret []byte) *Auth {
	return &Auth{tokenAuth: jwtauth.New("HS256", secret, nil)}
}

// Verifier finds and decodes a token from the Authorization header or the
// jwt query parameter, placing claims in the request context.
func (a *Auth) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(a.tokenAuth)
}

// Authenticator rejects requests without a valid token and stores the
// actor in the context for handlers.
func (a *Auth) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			common.RespondWithError(w, common.Errorf("%w: authorization token required", common.ErrAuthentication))
			return
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			common.RespondWithError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), actorIDCtxKey, actor.ID)
		ctx = context.WithValue(ctx, actorRoleCtxKey, actor.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards admin-only routes. It runs after Authenticator.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin() {
			common.RespondWithError(w, common.Errorf("%w: admin access required", common.ErrAuthentication))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ParseToken verifies a raw token string. Used by the websocket gateway,
// where tokens arrive in messages rather than headers.
func (a *Auth) ParseToken(tokenString string) (Actor, error) {
	token, err := jwtauth.VerifyToken(a.tokenAuth, tokenString)
	if err != nil {
		return Actor{}, common.Errorf("%w: %v", common.ErrAuthentication, err)
	}
	claims, err := token.AsMap(context.Background())
	if err != nil {
		return Actor{}, common.Errorf("%w: unreadable claims", common.ErrAuthentication)
	}
	return actorFromClaims(claims)
}

// GenerateToken mints a token the way the auth service does. Kept for the
// seed tool and tests.
func (a *Auth) GenerateToken(actorID uuid.UUID, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  actorID.String(),
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	_, tokenString, err := a.tokenAuth.Encode(claims)
	return tokenString, err
}

// ActorFromRequest extracts an actor on routes where authentication is
// optional. Runs after Verifier; anonymous and invalid tokens both come
// back as no actor.
func (a *Auth) ActorFromRequest(r *http.Request) (Actor, bool) {
	token, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || token == nil {
		return Actor{}, false
	}
	actor, err := actorFromClaims(claims)
	if err != nil {
		return Actor{}, false
	}
	return actor, true
}

// ActorFromContext returns the verified actor stored by Authenticator.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	id, ok := ctx.Value(actorIDCtxKey).(uuid.UUID)
	if !ok {
		return Actor{}, false
	}
	role, ok := ctx.Value(actorRoleCtxKey).(string)
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: id, Role: role}, true
}

func actorFromClaims(claims map[string]interface{}) (Actor, error) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return Actor{}, common.Errorf("%w: sub claim is missing or not a string", common.ErrAuthentication)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return Actor{}, common.Errorf("%w: sub claim is not a uuid", common.ErrAuthentication)
	}
	role, ok := claims["role"].(string)
	if !ok {
		return Actor{}, common.Errorf("%w: role claim is missing or not a string", common.ErrAuthentication)
	}
	if role != RoleTeam && role != RoleAdmin {
		return Actor{}, common.Errorf("%w: unknown role %q", common.ErrAuthentication, role)
	}
	return Actor{ID: id, Role: role}, nil
}
