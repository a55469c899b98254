package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"github.com/gin-gonic/gin"
)

const tokenTypeBearer = "Bearer"

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token"`
}

type photoPayload struct {
	Data        string `json:"data"`
	ContentType string `json:"content_type"`
}

type userPayload struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	ProfilePhoto *photoPayload `json:"profile_photo,omitempty"`
}

type sessionPayload struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int64       `json:"expires_in"`
	User      userPayload `json:"user"`
}

func newUserPayload(user users.User) userPayload {
	payload := userPayload{ID: user.ID, Name: user.Name, Email: user.Email}
	if user.ProfilePhoto != nil {
		payload.ProfilePhoto = &photoPayload{Data: user.ProfilePhoto.Data, ContentType: user.ProfilePhoto.ContentType}
	}
	return payload
}

func newSessionPayload(session accounts.Session) sessionPayload {
	return sessionPayload{
		Token:     session.Token.Token,
		TokenType: tokenTypeBearer,
		ExpiresIn: session.Token.ExpiresIn,
		User:      newUserPayload(session.User),
	}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request accounts.SignupInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	session, err := h.accounts.Signup(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionPayload(session))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request accounts.LoginInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	session, err := h.accounts.Login(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionPayload(session))
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	session, err := h.accounts.FederatedLogin(c.Request.Context(), request.IDToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionPayload(session))
}
