package v1

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/plugin/storage/image"
)

const maxUploadSize = 20 << 20

type uploadResponse struct {
	Success     bool   `json:"success"`
	FilePath    string `json:"file_path"`
	PublicURL   string `json:"public_url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Message     string `json:"message"`
}

func (s *APIV1Service) registerUploadRoutes(e *echo.Echo) {
	e.POST("/api/v1/uploads/image", s.uploadImage)
}

func (s *APIV1Service) uploadImage(c *echo.Context) error {
	userID, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	if s.Uploader == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "object storage is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file required")
	}
	if file.Size > maxUploadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", maxUploadSize))
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if image.Extension(contentType) == "" {
		// Browsers sometimes send application/octet-stream.
		head := make([]byte, 512)
		n, _ := src.Read(head)
		contentType = http.DetectContentType(head[:n])
		if _, err := src.Seek(0, 0); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	resizeMax := profile.DefaultResizeMax
	if s.Profile != nil {
		resizeMax = s.Profile.ResizeMax
	}
	data, err := image.Normalize(src, contentType, resizeMax)
	if err != nil {
		return httpError(err)
	}

	key := path.Join("uploads", userID, shortuuid.New()+image.Extension(contentType))
	url, err := s.Uploader.Put(c.Request().Context(), key, contentType, bytes.NewReader(data))
	if err != nil {
		return httpError(err)
	}
	slog.Info("[UPLOAD]", "user", userID, "key", key, "bytes", len(data))
	return c.JSON(http.StatusOK, uploadResponse{
		Success:     true,
		FilePath:    key,
		PublicURL:   url,
		Filename:    file.Filename,
		ContentType: contentType,
		Message:     "uploaded",
	})
}
