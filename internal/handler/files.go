package handler

import (
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var fileNamePattern = regexp.MustCompile(`^([A-Za-z0-9_-]{1,128})\.(mp4|jpg)$`)

func (h *Handler) ServeVideo(c *gin.Context) {
	h.serveMedia(c, "mp4", "video/mp4")
}

func (h *Handler) ServeThumbnail(c *gin.Context) {
	h.serveMedia(c, "jpg", "image/jpeg")
}

// serveMedia streams a published file with range support. Unsatisfiable
// ranges get 416 from http.ServeContent.
func (h *Handler) serveMedia(c *gin.Context, ext, contentType string) {
	name := path.Base(c.Param("file"))
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil || !strings.EqualFold(m[2], ext) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	videoPath, thumbPath := h.files.LocalPaths(m[1])
	filePath := videoPath
	if ext == "jpg" {
		filePath = thumbPath
	}

	f, err := os.Open(filePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=3600")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
