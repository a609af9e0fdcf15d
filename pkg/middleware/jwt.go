package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTTokenService is the default-but-overridable TokenService backing
// identity tokens with github.com/lestrrat-go/jwx/v2, grounded on the
// teacher's pkg/auth.JWTValidator JWKS-cache idiom but generalised from
// validate-only (tokens minted by an external provider) to mint+validate
// of the mesh's own identity tokens, since the middleware registry's
// token_service owns both directions (spec §4.12).
type JWTTokenService struct {
	key      jwk.Key
	keySet   jwk.Set
	issuer   string
	audience string
	ttl      time.Duration
}

// JWTConfig configures a JWTTokenService. Key is the HMAC signing key
// used for both minting and local validation.
type JWTConfig struct {
	Key      []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// NewJWTTokenService constructs a TokenService that mints and validates
// its own HS256 tokens. TTL defaults to one hour.
func NewJWTTokenService(cfg JWTConfig) (*JWTTokenService, error) {
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("middleware: jwt token service requires a signing key")
	}
	key, err := jwk.FromRaw(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("middleware: build signing key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, fmt.Errorf("middleware: set signing algorithm: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	keySet := jwk.NewSet()
	if err := keySet.AddKey(key); err != nil {
		return nil, fmt.Errorf("middleware: build key set: %w", err)
	}

	return &JWTTokenService{key: key, keySet: keySet, issuer: cfg.Issuer, audience: cfg.Audience, ttl: ttl}, nil
}

// Mint signs a token carrying identity.ID as subject and identity.Claims
// flattened into the token's custom claims.
func (s *JWTTokenService) Mint(_ context.Context, identity UserIdentity) (string, error) {
	builder := jwt.NewBuilder().
		Subject(identity.ID).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(s.ttl))
	if s.issuer != "" {
		builder = builder.Issuer(s.issuer)
	}
	if s.audience != "" {
		builder = builder.Audience([]string{s.audience})
	}
	for k, v := range identity.Claims {
		builder = builder.Claim(k, v)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("middleware: build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("middleware: sign token: %w", err)
	}
	return string(signed), nil
}

// Validate parses and verifies tokenString against the service's own
// key set, issuer, and audience, reconstructing the UserIdentity from
// its subject and non-standard claims.
func (s *JWTTokenService) Validate(ctx context.Context, tokenString string) (UserIdentity, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(s.keySet),
		jwt.WithValidate(true),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return UserIdentity{}, fmt.Errorf("middleware: invalid token: %w", err)
	}

	claims := make(map[string]any)
	for it := token.Iterate(ctx); it.Next(ctx); {
		pair := it.Pair()
		key, ok := pair.Key.(string)
		if !ok || key == "sub" || key == "iss" || key == "aud" || key == "exp" || key == "iat" || key == "nbf" {
			continue
		}
		claims[key] = pair.Value
	}

	return UserIdentity{ID: token.Subject(), Claims: claims}, nil
}

var _ TokenService = (*JWTTokenService)(nil)
