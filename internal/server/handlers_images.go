package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/gin-gonic/gin"
)

const (
	formFieldSketch    = "sketch"
	formFieldGenerated = "generated"
	multipartOverhead  = 1 << 20
)

type entryPayload struct {
	ID             string    `json:"id"`
	SketchImage    string    `json:"sketch_image"`
	GeneratedImage string    `json:"generated_image"`
	CreatedAt      time.Time `json:"created_at"`
}

type uploadResponsePayload struct {
	Message string `json:"message"`
	ImageID string `json:"image_id"`
}

type messagePayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleImageUpload(c *gin.Context, identity accounts.Identity) {
	maxImageBytes := h.images.MaxImageBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*maxImageBytes+multipartOverhead)

	sketch, err := h.readFormImage(c, formFieldSketch, maxImageBytes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	generated, err := h.readFormImage(c, formFieldGenerated, maxImageBytes)
	if err != nil {
		h.respondError(c, err)
		return
	}

	entry, err := h.images.Upload(c.Request.Context(), identity.UserID, sketch, generated)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponsePayload{Message: "images saved", ImageID: entry.ID})
}

// readFormImage reads at most one byte past the limit so the service can reject oversize files.
func (h *httpHandler) readFormImage(c *gin.Context, field string, maxImageBytes int64) (images.Upload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return images.Upload{Field: field}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return images.Upload{}, images.ErrInvalidUpload
		}
		return images.Upload{}, errors.Join(images.ErrInvalidUpload, err)
	}
	file, err := header.Open()
	if err != nil {
		return images.Upload{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return images.Upload{}, err
	}
	return images.Upload{Field: field, Data: data}, nil
}

func (h *httpHandler) handleImageHistory(c *gin.Context, identity accounts.Identity) {
	entries, err := h.images.History(c.Request.Context(), identity.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, entryPayload{
			ID:             entry.ID,
			SketchImage:    entry.SketchImage,
			GeneratedImage: entry.GeneratedImage,
			CreatedAt:      entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleImageDelete(c *gin.Context, identity accounts.Identity) {
	if err := h.images.Delete(c.Request.Context(), identity.UserID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "image deleted"})
}
