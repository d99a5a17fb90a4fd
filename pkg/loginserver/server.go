// Package loginserver is a development login backend. Identity payloads are
// trusted as sent.
package loginserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/porthorian/weappauth/pkg/transport"
)

const (
	ErrCodeHeaderMissed   = "ERR_HEADER_MISSED"
	ErrCodeLoginFailed    = "ERR_LOGIN_FAILED"
	ErrCodeInvalidSession = "ERR_INVALID_SESSION"

	defaultTTL = 2 * time.Hour
)

var (
	ErrMissingSigningKey = errors.New("loginserver: signing key is required")
	ErrInvalidSession    = errors.New("loginserver: invalid session")
)

type Identity struct {
	Code          string
	EncryptedData string
	IV            string
}

type ResolveFunc func(ctx context.Context, identity Identity) (map[string]any, error)

type Config struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
	Resolve    ResolveFunc
	Logger     logr.Logger
	Now        func() time.Time
}

type Claims struct {
	UserInfo map[string]any `json:"userinfo,omitempty"`
	jwt.RegisteredClaims
}

type Server struct {
	key     []byte
	issuer  string
	ttl     time.Duration
	resolve ResolveFunc
	logger  logr.Logger
	now     func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func New(config Config) (*Server, error) {
	if len(config.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}

	s := &Server{
		key:     append([]byte(nil), config.SigningKey...),
		issuer:  strings.TrimSpace(config.Issuer),
		ttl:     config.TTL,
		resolve: config.Resolve,
		logger:  config.Logger,
		now:     config.Now,
		revoked: map[string]time.Time{},
	}
	if s.issuer == "" {
		s.issuer = "weappauth"
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.resolve == nil {
		s.resolve = ResolveOpenID
	}
	if s.logger.GetSink() == nil {
		s.logger = logr.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func ResolveOpenID(_ context.Context, identity Identity) (map[string]any, error) {
	return map[string]any{
		"openId": uuid.NewSHA1(uuid.NameSpaceOID, []byte(identity.Code)).String(),
	}, nil
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/login", s.Login)
	r.Post("/login", s.Login)
	r.With(s.Protect).Get("/user", s.User)
	r.With(s.Protect).Get("/tunnel", s.Tunnel)

	return r
}

type envelope struct {
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type loginData struct {
	Skey     string `json:"skey"`
	UserInfo bool   `json:"userinfo"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	identity := Identity{
		Code:          strings.TrimSpace(r.Header.Get(transport.HeaderCode)),
		EncryptedData: strings.TrimSpace(r.Header.Get(transport.HeaderEncryptedData)),
		IV:            strings.TrimSpace(r.Header.Get(transport.HeaderIV)),
	}
	if identity.Code == "" || identity.EncryptedData == "" || identity.IV == "" {
		writeJSON(w, http.StatusBadRequest, envelope{
			Code:    transport.CodeSessionInvalid,
			Error:   ErrCodeHeaderMissed,
			Message: "login requests must carry the code, encrypted data and iv headers",
		})
		return
	}

	info, err := s.resolve(r.Context(), identity)
	if err != nil {
		s.logger.Info("login rejected", "reason", err.Error())
		writeJSON(w, http.StatusOK, envelope{
			Code:    transport.CodeSessionInvalid,
			Error:   ErrCodeLoginFailed,
			Message: err.Error(),
		})
		return
	}

	skey, err := s.Issue(info)
	if err != nil {
		s.logger.Error(err, "failed to issue session key")
		writeJSON(w, http.StatusInternalServerError, envelope{
			Code:    transport.CodeSessionInvalid,
			Error:   ErrCodeLoginFailed,
			Message: "failed to issue session",
		})
		return
	}

	s.logger.V(1).Info("session issued")
	writeJSON(w, http.StatusOK, envelope{
		Code: transport.CodeSuccess,
		Data: loginData{Skey: skey, UserInfo: true},
	})
}

func (s *Server) User(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, envelope{
		Code: transport.CodeSuccess,
		Data: map[string]any{"userinfo": claims.UserInfo},
	})
}

func (s *Server) Tunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.V(1).Info("tunnel accept failed", "reason", err.Error())
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := r.Context()
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, mt, data); err != nil {
			return
		}
	}
}

func (s *Server) Issue(info map[string]any) (string, error) {
	now := s.now()
	subject, _ := info["openId"].(string)

	claims := Claims{
		UserInfo: info,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("loginserver: sign session key: %w", err)
	}
	return signed, nil
}

func (s *Server) Validate(skey string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(skey, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidSession)
	}
	return claims, nil
}

func (s *Server) Revoke(skey string) error {
	claims, err := s.Validate(skey)
	if err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, expires := range s.revoked {
		if now.After(expires) {
			delete(s.revoked, id)
		}
	}
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

type claimsContextKey struct{}

func (s *Server) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skey := strings.TrimSpace(r.Header.Get(transport.HeaderSkey))
		if skey == "" {
			writeInvalidSession(w, "missing session key")
			return
		}

		claims, err := s.Validate(skey)
		if err != nil {
			s.logger.V(1).Info("rejected session", "reason", err.Error())
			writeInvalidSession(w, "invalid session key")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || claims == nil {
		return &Claims{}, false
	}
	return claims, true
}

func writeInvalidSession(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, envelope{
		Code:    transport.CodeSessionInvalid,
		Error:   ErrCodeInvalidSession,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
