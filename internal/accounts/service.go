package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opSignup         = "accounts.signup"
	opLogin          = "accounts.login"
	opFederatedLogin = "accounts.federated_login"
	opAuthenticate   = "accounts.authenticate"
	opProfile        = "accounts.profile"
	opUpdateProfile  = "accounts.update_profile"
	opUpdatePhoto    = "accounts.update_photo"

	defaultGoogleVerifyTimeout = 5 * time.Second
	defaultMaxPhotoBytes       = 10 << 20
	bearerScheme               = "Bearer"
)

var (
	// ErrInvalidServiceConfig reports a Service constructed without a required dependency.
	ErrInvalidServiceConfig = errors.New("accounts: invalid service config")

	errMissingStore        = errors.New("identity store is required")
	errMissingHasher       = errors.New("password hasher is required")
	errMissingTokenIssuer  = errors.New("token issuer is required")
	errMissingGoogle       = errors.New("google verifier is required")
	errMissingBearer       = errors.New("missing bearer token")
	errUnknownEmail        = errors.New("no account for email")
	errNoPassword          = errors.New("account has no password")
	errWrongPassword       = errors.New("password mismatch")
	errUnverifiedEmail     = errors.New("federated email is not verified")
	errSubjectUserNotFound = errors.New("token subject no longer exists")
	errNothingToUpdate     = errors.New("no profile fields supplied")
)

// PasswordHasher hashes and verifies local passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	VerifyUnknown(plaintext string)
}

// TokenIssuer mints and verifies backend session tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, claims auth.TokenClaims) (auth.IssuedToken, error)
	Verify(token string) (auth.TokenClaims, error)
}

// IdentityTokenVerifier checks a third-party ID token and returns its verified claims.
type IdentityTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.GoogleClaims, error)
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Store                     users.Store
	Hasher                    PasswordHasher
	Tokens                    TokenIssuer
	Google                    IdentityTokenVerifier
	GoogleVerifyTimeout       time.Duration
	LinkRequiresVerifiedEmail bool
	MaxPhotoBytes             int
	Logger                    *zap.Logger
}

// Session is the result of a successful signup or login.
type Session struct {
	Token auth.IssuedToken
	User  users.User
}

// Identity is the caller resolved from a bearer token. User is freshly loaded from the store.
type Identity struct {
	UserID string
	User   users.User
}

// Service implements registration, login, federation, request authentication, and profile changes.
type Service struct {
	store                     users.Store
	hasher                    PasswordHasher
	tokens                    TokenIssuer
	google                    IdentityTokenVerifier
	googleVerifyTimeout       time.Duration
	linkRequiresVerifiedEmail bool
	maxPhotoBytes             int
	validate                  *validator.Validate
	logger                    *zap.Logger
}

// NewService validates dependencies and constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errMissingStore)
	case cfg.Hasher == nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errMissingHasher)
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errMissingTokenIssuer)
	case cfg.Google == nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errMissingGoogle)
	}

	timeout := cfg.GoogleVerifyTimeout
	if timeout <= 0 {
		timeout = defaultGoogleVerifyTimeout
	}
	maxPhotoBytes := cfg.MaxPhotoBytes
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = defaultMaxPhotoBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:                     cfg.Store,
		hasher:                    cfg.Hasher,
		tokens:                    cfg.Tokens,
		google:                    cfg.Google,
		googleVerifyTimeout:       timeout,
		linkRequiresVerifiedEmail: cfg.LinkRequiresVerifiedEmail,
		maxPhotoBytes:             maxPhotoBytes,
		validate:                  newValidator(),
		logger:                    logger,
	}, nil
}

// Signup registers a local account and returns a session for it.
func (s *Service) Signup(ctx context.Context, input SignupInput) (Session, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = users.NormalizeEmail(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return Session{}, newValidationError(opSignup, describeValidation(err), err)
	}

	_, err := s.store.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		return Session{}, newError(opSignup, ErrAlreadyExists, nil)
	case !errors.Is(err, users.ErrNotFound):
		return Session{}, s.storeFailure(opSignup, err)
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return Session{}, newValidationError(opSignup, "password must be at most 72 bytes", err)
		}
		return Session{}, newError(opSignup, ErrStoreUnavailable, err)
	}

	created, err := s.store.Create(ctx, users.User{
		Name:       input.Name,
		Email:      input.Email,
		Credential: users.LocalCredential{Hash: digest},
	})
	if err != nil {
		if errors.Is(err, users.ErrConstraintViolation) {
			return Session{}, newError(opSignup, ErrAlreadyExists, err)
		}
		return Session{}, s.storeFailure(opSignup, err)
	}

	s.logger.Info("account created", zap.String("user_id", created.ID), zap.String("provider", "local"))
	return s.openSession(ctx, opSignup, created)
}

// Login verifies local credentials. Unknown email, federated-only accounts, and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, input LoginInput) (Session, error) {
	input.Email = users.NormalizeEmail(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return Session{}, newValidationError(opLogin, describeValidation(err), err)
	}

	user, err := s.store.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			s.hasher.VerifyUnknown(input.Password)
			return Session{}, newError(opLogin, ErrInvalidCredentials, errUnknownEmail)
		}
		return Session{}, s.storeFailure(opLogin, err)
	}

	digest, ok := users.PasswordHash(user.Credential)
	if !ok {
		s.hasher.VerifyUnknown(input.Password)
		return Session{}, newError(opLogin, ErrInvalidCredentials, errNoPassword)
	}
	if !s.hasher.Verify(input.Password, digest) {
		return Session{}, newError(opLogin, ErrInvalidCredentials, errWrongPassword)
	}

	return s.openSession(ctx, opLogin, user)
}

// FederatedLogin exchanges a Google ID token for a session, creating or linking the account.
// Failures surface as ErrAuthenticationFailed; the underlying reason is only logged.
func (s *Service) FederatedLogin(ctx context.Context, idToken string) (Session, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Session{}, newValidationError(opFederatedLogin, "id_token is required", nil)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.googleVerifyTimeout)
	claims, err := s.google.Verify(verifyCtx, idToken)
	cancel()
	if err != nil {
		s.logger.Warn("federation token rejected", zap.Error(err))
		return Session{}, newError(opFederatedLogin, ErrAuthenticationFailed, fmt.Errorf("%w: %w", ErrFederationTokenInvalid, err))
	}

	user, err := s.reconcile(ctx, claims)
	if err != nil {
		return Session{}, err
	}
	return s.openSession(ctx, opFederatedLogin, user)
}

func (s *Service) reconcile(ctx context.Context, claims auth.GoogleClaims) (users.User, error) {
	user, err := s.store.FindByFederatedID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return users.User{}, s.storeFailure(opFederatedLogin, err)
	}

	user, err = s.store.FindByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		return s.link(ctx, user, claims)
	case errors.Is(err, users.ErrNotFound):
		return s.createFederated(ctx, claims)
	default:
		return users.User{}, s.storeFailure(opFederatedLogin, err)
	}
}

func (s *Service) link(ctx context.Context, user users.User, claims auth.GoogleClaims) (users.User, error) {
	if s.linkRequiresVerifiedEmail && !claims.EmailVerified {
		s.logger.Warn("refusing to link unverified federated email", zap.String("user_id", user.ID))
		return users.User{}, newError(opFederatedLogin, ErrAuthenticationFailed, errUnverifiedEmail)
	}

	credential, err := users.LinkSubject(user.Credential, claims.Subject)
	if err != nil {
		s.logger.Warn("federated subject conflicts with linked account", zap.String("user_id", user.ID))
		return users.User{}, newError(opFederatedLogin, ErrAuthenticationFailed, err)
	}
	user.Credential = credential
	if user.ProfilePhoto == nil && claims.Picture != "" {
		user.ProfilePhoto = &users.ProfilePhoto{Data: claims.Picture, ContentType: users.PhotoContentTypeURL}
	}

	updated, err := s.store.Update(ctx, user)
	if err != nil {
		if errors.Is(err, users.ErrConstraintViolation) || errors.Is(err, users.ErrNotFound) {
			return users.User{}, newError(opFederatedLogin, ErrAuthenticationFailed, err)
		}
		return users.User{}, s.storeFailure(opFederatedLogin, err)
	}
	s.logger.Warn("linked federated identity to existing account", zap.String("user_id", updated.ID))
	return updated, nil
}

func (s *Service) createFederated(ctx context.Context, claims auth.GoogleClaims) (users.User, error) {
	name := claims.Name
	if name == "" {
		name, _, _ = strings.Cut(claims.Email, "@")
	}
	user := users.User{
		Name:       name,
		Email:      claims.Email,
		Credential: users.FederatedCredential{Subject: claims.Subject},
	}
	if claims.Picture != "" {
		user.ProfilePhoto = &users.ProfilePhoto{Data: claims.Picture, ContentType: users.PhotoContentTypeURL}
	}

	created, err := s.store.Create(ctx, user)
	if err != nil {
		if errors.Is(err, users.ErrConstraintViolation) || errors.Is(err, users.ErrInvalidUser) {
			return users.User{}, newError(opFederatedLogin, ErrAuthenticationFailed, err)
		}
		return users.User{}, s.storeFailure(opFederatedLogin, err)
	}
	s.logger.Info("account created", zap.String("user_id", created.ID), zap.String("provider", "google"))
	return created, nil
}

// Authenticate resolves the caller from an Authorization header value. Every rejection is
// ErrUnauthenticated; a store outage is ErrStoreUnavailable.
func (s *Service) Authenticate(ctx context.Context, authorizationHeader string) (Identity, error) {
	token, ok := bearerToken(authorizationHeader)
	if !ok {
		return Identity{}, newError(opAuthenticate, ErrUnauthenticated, errMissingBearer)
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			s.logger.Info("token validation failed", zap.Error(err))
		} else {
			s.logger.Warn("token validation failed", zap.Error(err))
		}
		return Identity{}, newError(opAuthenticate, ErrUnauthenticated, err)
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			s.logger.Warn("token subject not found", zap.String("user_id", claims.UserID))
			return Identity{}, newError(opAuthenticate, ErrUnauthenticated, errSubjectUserNotFound)
		}
		return Identity{}, s.storeFailure(opAuthenticate, err)
	}

	return Identity{UserID: user.ID, User: user}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Profile reloads the caller's account.
func (s *Service) Profile(ctx context.Context, identity Identity) (users.User, error) {
	user, err := s.store.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return users.User{}, newError(opProfile, ErrUnauthenticated, errSubjectUserNotFound)
		}
		return users.User{}, s.storeFailure(opProfile, err)
	}
	return user, nil
}

// UpdateProfile applies name, email, and password changes in one write.
func (s *Service) UpdateProfile(ctx context.Context, identity Identity, update ProfileUpdate) (users.User, error) {
	update.Name = strings.TrimSpace(update.Name)
	update.Email = users.NormalizeEmail(update.Email)
	if err := s.validate.Struct(update); err != nil {
		return users.User{}, newValidationError(opUpdateProfile, describeValidation(err), err)
	}
	if update.Name == "" && update.Email == "" && update.CurrentPassword == "" && update.NewPassword == "" {
		return users.User{}, newValidationError(opUpdateProfile, "no profile fields supplied", errNothingToUpdate)
	}

	user := identity.User
	if update.Name != "" {
		user.Name = update.Name
	}
	if update.Email != "" && update.Email != user.Email {
		existing, err := s.store.FindByEmail(ctx, update.Email)
		switch {
		case err == nil && existing.ID != user.ID:
			return users.User{}, newError(opUpdateProfile, ErrAlreadyExists, nil)
		case err != nil && !errors.Is(err, users.ErrNotFound):
			return users.User{}, s.storeFailure(opUpdateProfile, err)
		}
		user.Email = update.Email
	}
	if update.CurrentPassword != "" || update.NewPassword != "" {
		credential, err := s.replacePassword(opUpdateProfile, user.Credential, update.CurrentPassword, update.NewPassword)
		if err != nil {
			return users.User{}, err
		}
		user.Credential = credential
	}

	return s.save(ctx, opUpdateProfile, user)
}

func (s *Service) replacePassword(operation string, credential users.Credential, currentPassword, newPassword string) (users.Credential, error) {
	if currentPassword == "" || newPassword == "" {
		return nil, newValidationError(operation, "current_password and new_password are both required", nil)
	}
	if len(newPassword) < minPasswordLength || len(newPassword) > maxPasswordLength {
		return nil, newValidationError(operation, fmt.Sprintf("new_password must be between %d and %d characters", minPasswordLength, maxPasswordLength), nil)
	}
	digest, ok := users.PasswordHash(credential)
	if !ok {
		s.hasher.VerifyUnknown(currentPassword)
		return nil, newError(operation, ErrInvalidCredentials, errNoPassword)
	}
	if !s.hasher.Verify(currentPassword, digest) {
		return nil, newError(operation, ErrInvalidCredentials, errWrongPassword)
	}
	newDigest, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, newValidationError(operation, "new_password must be at most 72 bytes", err)
		}
		return nil, newError(operation, ErrStoreUnavailable, err)
	}
	return users.WithPassword(credential, newDigest), nil
}

// MaxPhotoBytes is the largest accepted profile photo data URL.
func (s *Service) MaxPhotoBytes() int {
	return s.maxPhotoBytes
}

// UpdatePhoto stores an inline image data URL as the caller's profile photo.
func (s *Service) UpdatePhoto(ctx context.Context, identity Identity, input PhotoInput) (users.User, error) {
	input.PhotoData = strings.TrimSpace(input.PhotoData)
	input.ContentType = strings.ToLower(strings.TrimSpace(input.ContentType))
	if err := s.validate.Struct(input); err != nil {
		return users.User{}, newValidationError(opUpdatePhoto, describeValidation(err), err)
	}
	match := photoDataPattern.FindStringSubmatch(input.PhotoData)
	if match == nil {
		return users.User{}, newValidationError(opUpdatePhoto, "photo_data must be a base64 jpeg, png, or gif data URL", nil)
	}
	if len(input.PhotoData) > s.maxPhotoBytes {
		return users.User{}, newValidationError(opUpdatePhoto, "photo_data is too large", nil)
	}
	contentType := "image/" + match[1]
	if input.ContentType != "" && input.ContentType != contentType {
		return users.User{}, newValidationError(opUpdatePhoto, "content_type does not match photo_data", nil)
	}

	user := identity.User
	user.ProfilePhoto = &users.ProfilePhoto{Data: input.PhotoData, ContentType: contentType}
	return s.save(ctx, opUpdatePhoto, user)
}

func (s *Service) save(ctx context.Context, operation string, user users.User) (users.User, error) {
	updated, err := s.store.Update(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrConstraintViolation):
			return users.User{}, newError(operation, ErrAlreadyExists, err)
		case errors.Is(err, users.ErrNotFound):
			return users.User{}, newError(operation, ErrUnauthenticated, errSubjectUserNotFound)
		case errors.Is(err, users.ErrInvalidUser):
			return users.User{}, newValidationError(operation, "", err)
		default:
			return users.User{}, s.storeFailure(operation, err)
		}
	}
	return updated, nil
}

func (s *Service) openSession(ctx context.Context, operation string, user users.User) (Session, error) {
	issued, err := s.tokens.Issue(ctx, auth.TokenClaims{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		s.logger.Error("token issuance failed", zap.String("operation", operation), zap.Error(err))
		return Session{}, newError(operation, ErrStoreUnavailable, err)
	}
	return Session{Token: issued, User: user}, nil
}

func (s *Service) storeFailure(operation string, err error) error {
	s.logger.Error("identity store failure", zap.String("operation", operation), zap.Error(err))
	return newError(operation, ErrStoreUnavailable, err)
}
