package server

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
)

// publicBuckets can be fetched without a download token. Backup snapshots
// always require a signed URL.
var publicBuckets = map[string]bool{
	storage.BucketDocuments: true,
	storage.BucketAvatars:   true,
}

// handleDownloadFile serves stored objects. The route shape mirrors the URLs
// PublicURL and SignedURL produce.
func (h *httpHandler) handleDownloadFile(c *gin.Context) {
	bucket := c.Param("bucket")
	object := strings.TrimPrefix(c.Param("object"), "/")
	if object == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	if !publicBuckets[bucket] {
		token := c.Query("token")
		if token == "" || h.signer == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "download_token_required"})
			return
		}
		if err := h.signer.Validate(token, bucket, object); err != nil {
			h.logger.Warn("download token rejected",
				zap.String("bucket", bucket), zap.String("object", object), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_download_token"})
			return
		}
	}

	reader, err := h.objects.Open(c.Request.Context(), bucket, object)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(object))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		h.logger.Warn("file download aborted",
			zap.String("bucket", bucket), zap.String("object", object), zap.Error(err))
	}
}
