package stubserver

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// Roles as stored in tokens and users.
const (
	roleUser  = "user"
	roleGuest = "guest"

	guestSubject  = "guest_user"
	guestUsername = "Guest User"

	principalKey = "stub.principal"
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (t *tokenIssuer) issue(subject, role string) (string, error) {
	now := t.now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

func (t *tokenIssuer) verify(raw string) (*claims, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

// principal is the caller of an authenticated route.
type principal struct {
	Email string
	Role  string
}

func (p principal) guest() bool { return p.Role == roleGuest }

// requireToken rejects requests without a valid bearer token.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}

		cl, err := s.tokens.verify(strings.TrimSpace(raw))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}
		if cl.Role != roleGuest {
			if _, known := s.users.get(cl.Subject); !known {
				return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
			}
		}

		c.Set(principalKey, principal{Email: cl.Subject, Role: cl.Role})
		return next(c)
	}
}

func caller(c echo.Context) principal {
	p, _ := c.Get(principalKey).(principal)
	return p
}

type user struct {
	Username string
	Email    string
	Hash     []byte
	Role     string
}

var errEmailTaken = errors.New("email already registered")

type userStore struct {
	mu    sync.RWMutex
	cost  int
	users map[string]user
}

func newUserStore(cost int) *userStore {
	return &userStore{cost: cost, users: make(map[string]user)}
}

func (u *userStore) create(username, email, password string) (user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return user{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[email]; ok {
		return user{}, errEmailTaken
	}
	rec := user{Username: username, Email: email, Hash: hash, Role: roleUser}
	u.users[email] = rec
	return rec, nil
}

func (u *userStore) get(email string) (user, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	rec, ok := u.users[email]
	return rec, ok
}

func (u *userStore) authenticate(email, password string) (user, bool) {
	rec, ok := u.get(email)
	if !ok {
		return user{}, false
	}
	if bcrypt.CompareHashAndPassword(rec.Hash, []byte(password)) != nil {
		return user{}, false
	}
	return rec, true
}
