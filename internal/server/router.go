package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxJSONBodyBytes caps the JSON bodies of the auth and profile routes.
const maxJSONBodyBytes = 64 << 10

var (
	errMissingAccountService = errors.New("account service dependency required")
	errMissingImageService   = errors.New("image service dependency required")
)

// AccountService is the authentication and profile surface consumed by the HTTP layer.
type AccountService interface {
	Signup(ctx context.Context, input accounts.SignupInput) (accounts.Session, error)
	Login(ctx context.Context, input accounts.LoginInput) (accounts.Session, error)
	FederatedLogin(ctx context.Context, idToken string) (accounts.Session, error)
	Authenticate(ctx context.Context, authorizationHeader string) (accounts.Identity, error)
	Profile(ctx context.Context, identity accounts.Identity) (users.User, error)
	UpdateProfile(ctx context.Context, identity accounts.Identity, update accounts.ProfileUpdate) (users.User, error)
	UpdatePhoto(ctx context.Context, identity accounts.Identity, input accounts.PhotoInput) (users.User, error)
	MaxPhotoBytes() int
}

// ImageService is the image history surface consumed by the HTTP layer.
type ImageService interface {
	Upload(ctx context.Context, userID string, sketch, generated images.Upload) (images.Entry, error)
	History(ctx context.Context, userID string) ([]images.Entry, error)
	Delete(ctx context.Context, userID, entryID string) error
	MaxImageBytes() int64
}

type Dependencies struct {
	Accounts       AccountService
	Images         ImageService
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Images == nil {
		return nil, errMissingImageService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		accounts: deps.Accounts,
		images:   deps.Images,
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(handler.recoverPanic))
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorPayload{Error: "not_found", Message: "route not found"})
	})

	jsonBody := limitRequestBody(maxJSONBodyBytes)
	photoBody := limitRequestBody(int64(deps.Accounts.MaxPhotoBytes()) + maxJSONBodyBytes)

	api := router.Group("/api")
	api.POST("/auth/signup", jsonBody, handler.handleSignup)
	api.POST("/auth/login", jsonBody, handler.handleLogin)
	api.POST("/auth/google", jsonBody, handler.handleGoogleAuth)

	api.GET("/profile", handler.withIdentity(handler.handleGetProfile))
	api.PUT("/profile", jsonBody, handler.withIdentity(handler.handleUpdateProfile))
	api.POST("/profile/photo", photoBody, handler.withIdentity(handler.handleUpdatePhoto))

	api.POST("/images/upload", handler.withIdentity(handler.handleImageUpload))
	api.GET("/images/history", handler.withIdentity(handler.handleImageHistory))
	api.DELETE("/images/:id", handler.withIdentity(handler.handleImageDelete))

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return cors.New(config)
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return cors.New(config)
	}
	config.AllowOrigins = origins
	return cors.New(config)
}

// limitRequestBody stops reading the request body after maxBytes. Decoders see *http.MaxBytesError.
func limitRequestBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

type httpHandler struct {
	accounts AccountService
	images   ImageService
	logger   *zap.Logger
}

// identityHandler is a protected route body. It only runs once the caller is resolved.
type identityHandler func(c *gin.Context, identity accounts.Identity)

func (h *httpHandler) withIdentity(next identityHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.accounts.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		next(c, identity)
	}
}
