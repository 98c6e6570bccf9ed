package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/service"
	"github.com/RahmatullahZadran/appss/internal/storage"
)

type ProfileImageHandler struct {
	imageService *service.ProfileImageService
	publicBase   string
}

// NewProfileImageHandler takes the public API base URL stored image links
// are built on; when empty it is inferred from each request.
func NewProfileImageHandler(imageService *service.ProfileImageService, publicBase string) *ProfileImageHandler {
	return &ProfileImageHandler{imageService: imageService, publicBase: strings.TrimRight(publicBase, "/")}
}

func (h *ProfileImageHandler) publicAPIBaseURL(c *fiber.Ctx) string {
	if h.publicBase != "" {
		return h.publicBase
	}
	// Fallback: infer from request.
	return strings.TrimRight(c.BaseURL(), "/") + "/api"
}

func (h *ProfileImageHandler) Upload(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return httpx.BadRequest(c, "missing_image", "image file is required")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return httpx.BadRequest(c, "invalid_image", "Invalid image upload")
	}
	defer f.Close()

	user, err := h.imageService.Upload(c.Context(), userID, f, h.publicAPIBaseURL(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			return httpx.BadRequest(c, "image_too_large", "Image is too large")
		case errors.Is(err, storage.ErrUnsupported):
			return httpx.BadRequest(c, "image_unsupported", "Unsupported image type")
		case errors.Is(err, storage.ErrInvalidImage):
			return httpx.BadRequest(c, "image_invalid", "Invalid image")
		}
		return httpx.FromService(c, err, "image_upload_failed")
	}

	return c.JSON(fiber.Map{
		"user": user.ToSelfResponse(),
	})
}

func (h *ProfileImageHandler) Delete(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	user, err := h.imageService.Delete(c.Context(), userID)
	if err != nil {
		return httpx.FromService(c, err, "image_delete_failed")
	}

	return c.JSON(fiber.Map{
		"user": user.ToSelfResponse(),
	})
}
