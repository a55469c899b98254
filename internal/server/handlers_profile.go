package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleGetProfile(c *gin.Context, identity accounts.Identity) {
	user, err := h.accounts.Profile(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context, identity accounts.Identity) {
	var request accounts.ProfileUpdate
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	user, err := h.accounts.UpdateProfile(c.Request.Context(), identity, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleUpdatePhoto(c *gin.Context, identity accounts.Identity) {
	var request accounts.PhotoInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	user, err := h.accounts.UpdatePhoto(c.Request.Context(), identity, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}
