// Package auth turns bearer tokens into workflow actors.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-damage-issues/internal/errors"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	Name     string         `json:"name,omitempty"`
	Branch   string         `json:"branch,omitempty"`
	Position string         `json:"position,omitempty"`
	Roles    map[string]any `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens.
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a Validator. An empty issuer disables the issuer check.
func NewValidator(secret, issuer string) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Validator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// Validate parses token and returns the actor it describes.
func (v *Validator) Validate(token string) (workflow.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, "missing bearer token")
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return workflow.Actor{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, "token has no subject")
	}
	return claims.Actor(), nil
}

// Actor converts claims to a workflow actor. Non-string role values are
// rendered as text so numeric role ids reach the resolver.
func (c *Claims) Actor() workflow.Actor {
	fields := make(map[string]string, len(c.Roles))
	for k, v := range c.Roles {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = t
		case float64:
			fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(t)
		default:
			fields[k] = fmt.Sprint(t)
		}
	}
	return workflow.Actor{
		ID:            c.Subject,
		DisplayName:   c.Name,
		Branch:        c.Branch,
		PositionTitle: c.Position,
		RawRoleFields: fields,
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

type actorKey struct{}

// WithActor stores actor on ctx.
func WithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored on ctx.
func ActorFrom(ctx context.Context) (workflow.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(workflow.Actor)
	return a, ok
}
