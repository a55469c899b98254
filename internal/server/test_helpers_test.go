package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testGoogleClientID = "jewelsketch-web.apps.googleusercontent.com"
	testGoogleKeyID    = "test-key"
	testMaxImageBytes  = 64 << 10
	testMaxPhotoBytes  = 64 << 10
)

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	clock      *mutableClock
	logs       *observer.ObservedLogs
	googleKey  *rsa.PrivateKey
	jwksServer *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := &mutableClock{now: time.Now().UTC()}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	googleKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []any{map[string]string{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": testGoogleKeyID,
				"n":   base64.RawURLEncoding.EncodeToString(googleKey.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(googleKey.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwksServer.Close)

	userStore, err := users.NewGormStore(users.GormStoreConfig{Database: db, IDProvider: users.NewUUIDProvider(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build user store: %v", err)
	}
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to build hasher: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "jewelsketch-auth",
		Audience:      "jewelsketch-api",
		TokenTTL:      time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	google, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:   testGoogleClientID,
		JWKSURL:    jwksServer.URL,
		HTTPClient: jwksServer.Client(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build google verifier: %v", err)
	}
	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Store:                     userStore,
		Hasher:                    hasher,
		Tokens:                    tokens,
		Google:                    google,
		GoogleVerifyTimeout:       2 * time.Second,
		LinkRequiresVerifiedEmail: true,
		MaxPhotoBytes:             testMaxPhotoBytes,
		Logger:                    logger,
	})
	if err != nil {
		t.Fatalf("failed to build account service: %v", err)
	}

	entryStore, err := images.NewGormStore(db, users.NewUUIDProvider(), clock.Now)
	if err != nil {
		t.Fatalf("failed to build image store: %v", err)
	}
	imageService, err := images.NewService(images.ServiceConfig{Store: entryStore, MaxImageBytes: testMaxImageBytes, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build image service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts:       accountService,
		Images:         imageService,
		AllowedOrigins: []string{"http://localhost:5173"},
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testServer{handler: handler, db: db, clock: clock, logs: logs, googleKey: googleKey, jwksServer: jwksServer}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) upload(t *testing.T, token string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, data := range files {
		part, err := writer.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/images/upload", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) signGoogleToken(t *testing.T, subject, email string, verified bool) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testGoogleClientID,
		"sub":            subject,
		"email":          email,
		"email_verified": verified,
		"exp":            now.Add(5 * time.Minute).Unix(),
		"iat":            now.Unix(),
	})
	token.Header["kid"] = testGoogleKeyID
	signed, err := token.SignedString(s.googleKey)
	if err != nil {
		t.Fatalf("failed to sign google token: %v", err)
	}
	return signed
}

func decodeSession(t *testing.T, recorder *httptest.ResponseRecorder) sessionPayload {
	t.Helper()
	var session sessionPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v (%s)", err, recorder.Body.String())
	}
	if session.Token == "" || session.TokenType != "Bearer" {
		t.Fatalf("unexpected session payload: %s", recorder.Body.String())
	}
	return session
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

func (s *testServer) signup(t *testing.T, name, email, password string) sessionPayload {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"name": name, "email": email, "password": password})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeSession(t, recorder)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
