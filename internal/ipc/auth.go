package ipc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"

	"github.com/hitlflow/hitlflow/internal/domain"
	"github.com/hitlflow/hitlflow/internal/guard"
	"github.com/hitlflow/hitlflow/internal/store"
)

const memberKey = "member"

// Authenticator resolves the bearer token of a request to a member. API
// tokens are tried first; when Verifier is set, the token is then treated as
// an OIDC ID token and matched by email.
type Authenticator struct {
	DB       *sql.DB
	Members  *store.MemberRepo
	Verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers issuer and returns an ID token verifier for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer %s: %w", issuer, err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Authenticate returns the member presenting the request's bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*domain.Member, error) {
	token, ok := bearer(header)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	m, err := a.Members.GetByToken(ctx, a.DB, token)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrMemberNotFound) {
		return nil, err
	}
	if a.Verifier == nil {
		return nil, domain.ErrUnauthenticated
	}

	idToken, err := a.Verifier.Verify(ctx, token)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Email == "" {
		return nil, domain.ErrUnauthenticated
	}
	m, err = a.Members.GetByEmail(ctx, a.DB, claims.Email)
	if errors.Is(err, domain.ErrMemberNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	return m, err
}

// Middleware authenticates every request of the group it is attached to.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m, err := a.Authenticate(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			c.Set(memberKey, m)
			return next(c)
		}
	}
}

// RateLimit charges one request to the authenticated member.
func RateLimit(g *guard.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m := member(c); m != nil {
				if err := g.CheckMember(m.ID); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

func member(c echo.Context) *domain.Member {
	m, _ := c.Get(memberKey).(*domain.Member)
	return m
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
