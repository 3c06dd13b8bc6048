package media

import (
	"github.com/gin-gonic/gin"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
	"github.com/xyz-asif/floodreport/internal/pkg/response"
)

type Handler struct {
	store *photo.LocalStore
}

func NewHandler(store *photo.LocalStore) *Handler {
	return &Handler{store: store}
}

// @Summary Report photo
// @Description Serves a photo stored on the local filesystem
// @Tags media
// @Produce image/jpeg
// @Produce image/png
// @Produce image/gif
// @Param name path string true "Stored file name"
// @Success 200 {file} file
// @Failure 404 {object} response.ErrorResponse
// @Router /media/{name} [get]
func (h *Handler) Photo(c *gin.Context) {
	path, err := h.store.Path(c.Param("name"))
	if err != nil {
		response.NotFound(c, "Photo not found", "PHOTO_NOT_FOUND")
		return
	}
	c.Header("Cache-Control", "public, max-age=86400, immutable")
	c.File(path)
}
