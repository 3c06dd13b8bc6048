package media

import (
	"github.com/gin-gonic/gin"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
)

// RegisterRoutes serves locally stored photos. Hosted photo storage hands
// out absolute URLs, so nothing is mounted for it.
func RegisterRoutes(router *gin.RouterGroup, store *photo.LocalStore) {
	if store == nil {
		return
	}
	handler := NewHandler(store)

	media := router.Group("/media")
	{
		media.GET("/:name", handler.Photo)
	}
}
