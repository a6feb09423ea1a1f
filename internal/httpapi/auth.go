package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fourcash/backend/internal/apperr"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/phone"
	"fourcash/backend/internal/session"
	"fourcash/backend/internal/store"
)

const tokenIssuer = "fourcash"

type UserStore interface {
	FindUserByPhone(ctx context.Context, phoneNumber string) (*domain.UserAccount, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	sessions session.Revocations
	validate *validator.Validate
	now      func() time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role    string `json:"role"`
	StoreID string `json:"storeId"`
	Name    string `json:"name,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore, sessions session.Revocations) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if sessions == nil {
		sessions = session.NewMemoryRevocations()
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		sessions: sessions,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Login checks a phone number and password. Owners and employees share the
// flow; the role in the account decides what the token grants.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if err := a.validate.Struct(req); err != nil {
		return domain.LoginResponse{}, apperr.Wrap(apperr.InvalidArgument, "phoneNumber and password are required", err)
	}
	normalized, err := phone.Normalize(req.PhoneNumber)
	if err != nil {
		return domain.LoginResponse{}, apperr.Wrap(apperr.InvalidArgument, "phoneNumber is not a valid phone number", err)
	}
	req.PhoneNumber = normalized

	user, err := a.users.FindUserByPhone(ctx, req.PhoneNumber)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, apperr.New(apperr.NotFound, "account not found")
	}
	if err != nil {
		return domain.LoginResponse{}, apperr.Wrap(apperr.Internal, "load account", err)
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, apperr.New(apperr.PermissionDenied, "account is inactive")
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, apperr.Wrap(apperr.Internal, "sign token", err)
	}

	return domain.LoginResponse{
		AccessToken: token,
		UID:         user.UID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		StoreID:     user.StoreID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken rejects tokens issued at or before the subject's revocation instant.
func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, apperr.New(apperr.Unauthenticated, "invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, apperr.New(apperr.Unauthenticated, "invalid token subject")
	}

	revokedAt, revoked, err := a.sessions.RevokedAt(ctx, sub)
	if err != nil {
		return domain.Actor{}, apperr.Wrap(apperr.Internal, "check session", err)
	}
	if revoked {
		if claims.IssuedAt == nil || !claims.IssuedAt.After(revokedAt) {
			return domain.Actor{}, apperr.New(apperr.Unauthenticated, "session revoked")
		}
	}

	return domain.Actor{UID: sub, DisplayName: claims.Name, Role: claims.Role, StoreID: claims.StoreID}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.UID,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role:    user.Role,
		StoreID: user.StoreID,
		Name:    user.DisplayName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
