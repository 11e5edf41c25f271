package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// FileResolver maps a stored blob key to a path on local disk.
type FileResolver interface {
	Path(key string) (string, error)
}

// ServeFile streams a locally stored attachment.
func ServeFile(files FileResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := files.Path(c.Param("key"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.File(path)
	}
}
