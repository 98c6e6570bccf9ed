package handlers

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/httpx"
	"github.com/RahmatullahZadran/appss/internal/storage"
)

// ObjectReader opens stored media objects.
type ObjectReader interface {
	OpenObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectStat, error)
}

type MediaHandler struct {
	store ObjectReader
	log   zerolog.Logger
}

// NewMediaHandler accepts a nil store; requests then answer 503.
func NewMediaHandler(store ObjectReader, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{store: store, log: log.With().Str("component", "media").Logger()}
}

// GetProfileImage streams a stored profile image.
// Route: GET /media/profile-images/*
func (h *MediaHandler) GetProfileImage(c *fiber.Ctx) error {
	if h.store == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured")
	}

	key, err := storage.SafeJoinObjectPath("profile-images", c.Params("*"))
	if err != nil {
		return httpx.NotFound(c, "not_found", "Not found")
	}

	obj, st, err := h.store.OpenObject(c.Context(), key)
	if err != nil {
		if storage.IsNotFound(err) {
			return httpx.NotFound(c, "not_found", "Not found")
		}
		h.log.Error().Err(err).Str("key", key).Msg("profile image fetch failed")
		return httpx.Internal(c, "media_fetch_failed")
	}

	if st.ETag != "" && httpx.NotModified(c, "\""+st.ETag+"\"") {
		_ = obj.Close()
		return c.SendStatus(fiber.StatusNotModified)
	}
	if !st.LastModified.IsZero() {
		c.Set("Last-Modified", st.LastModified.UTC().Format(time.RFC1123))
	}

	// Keys are never reused, so the object can be cached forever.
	c.Set("Cache-Control", "private, max-age=31536000, immutable")
	if st.ContentType == "" {
		st.ContentType = "image/jpeg"
	}
	c.Set(fiber.HeaderContentType, st.ContentType)
	if st.Size > 0 {
		c.Set("Content-Length", strconv.FormatInt(st.Size, 10))
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer obj.Close()
		n, copyErr := io.Copy(w, obj)
		if copyErr == nil {
			copyErr = w.Flush()
		}
		if copyErr != nil {
			h.log.Warn().Err(copyErr).Str("key", key).Int64("copied", n).Msg("profile image stream failed")
		}
	})
	return nil
}
