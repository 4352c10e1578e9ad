package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/munilegis/legis/internal/admin"
	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
)

// Snapshot uploads are operator-provided JSON documents; a generous cap keeps
// a bad upload from exhausting memory.
const maxSnapshotBytes = 64 << 20

type invitePayload struct {
	userPayload
	Password string `json:"password"`
}

func (h *httpHandler) handleInviteUser(c *gin.Context) {
	var payload invitePayload
	if isMultipart(c) {
		profile, ok := h.bindUserPayload(c)
		if !ok {
			return
		}
		payload.userPayload = profile
		payload.Password = c.PostForm("password")
	} else if err := c.ShouldBindJSON(&payload); err != nil || payload.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, err := records.ParseUserRole(payload.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	upload, closeUpload, err := fileUploadFromForm(c, "avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}
	defer closeUpload()

	user, err := h.admin.InviteUser(c.Request.Context(), admin.Invitation{
		Profile: records.UserCreate{
			Firstname: payload.Firstname,
			Lastname:  payload.Lastname,
			Email:     payload.Email,
			Role:      role,
			Bio:       payload.Bio,
		},
		Password: payload.Password,
	}, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *httpHandler) handleListBackups(c *gin.Context) {
	snapshots, err := h.backups.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": snapshots})
}

func (h *httpHandler) handleExportBackup(c *gin.Context) {
	handle, err := h.admin.BackupDatabase(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Backup created successfully",
		"fileName": handle.FileName,
		"url":      handle.URL,
	})
}

// handleRestoreBackup merges an uploaded snapshot. The body is either the raw
// snapshot JSON or a multipart form with the snapshot under "file". The merge
// outcome always returns 200; success and message carry the verdict, matching
// how operators consume partial restores.
func (h *httpHandler) handleRestoreBackup(c *gin.Context) {
	var raw []byte
	if isMultipart(c) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_snapshot"})
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_snapshot"})
			return
		}
		defer file.Close()
		raw, err = io.ReadAll(io.LimitReader(file, maxSnapshotBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_snapshot"})
			return
		}
	} else {
		var err error
		raw, err = io.ReadAll(io.LimitReader(c.Request.Body, maxSnapshotBytes))
		if err != nil || len(raw) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_snapshot"})
			return
		}
	}

	result := h.backups.Restore(c.Request.Context(), raw)
	if !result.Success {
		h.logger.Warn("backup restore reported failure", zap.String("message", result.Message))
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleBackupURL(c *gin.Context) {
	url, err := h.backups.SignedURL(c.Param("name"), h.signedTTL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *httpHandler) handleDeleteBackup(c *gin.Context) {
	if err := h.backups.Delete(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
