package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/munilegis/legis/internal/records"
)

// fileUploadFromForm extracts an optional uploaded file from a multipart
// request. JSON requests and multipart requests without the field yield a nil
// upload. The returned closer must be called once the service is done reading.
func fileUploadFromForm(c *gin.Context, field string) (*records.FileUpload, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}
	file, err := header.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return &records.FileUpload{Name: header.Filename, Reader: file}, func() { _ = file.Close() }, nil
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// formValue returns the first value for the key, or nil when the field was
// not submitted. Distinguishing absent from empty keeps partial updates
// partial.
func formValue(c *gin.Context, key string) *string {
	form := c.Request.MultipartForm
	if form == nil {
		return nil
	}
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	value := values[0]
	return &value
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(value))
}

type documentPayload struct {
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Title       string  `json:"title"`
	AuthorName  string  `json:"author_name"`
	Series      string  `json:"series"`
	Description *string `json:"description"`
	ApprovedBy  *string `json:"approved_by"`
	ApprovedAt  *string `json:"approved_at"`
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	documents, err := h.documents.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

func (h *httpHandler) handleListPublicDocuments(c *gin.Context) {
	documents, err := h.documents.ListPublic(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	payload, ok := h.bindDocumentPayload(c)
	if !ok {
		return
	}

	docType, err := records.ParseDocumentType(payload.Type)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status, err := records.ParseDocumentStatus(payload.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	input := records.DocumentCreate{
		Type:        docType,
		Status:      status,
		Title:       payload.Title,
		AuthorName:  payload.AuthorName,
		Series:      payload.Series,
		Description: payload.Description,
		ApprovedBy:  payload.ApprovedBy,
	}
	if payload.ApprovedAt != nil {
		approvedAt, err := parseTimestamp(*payload.ApprovedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_approved_at"})
			return
		}
		input.ApprovedAt = &approvedAt
	}

	upload, closeUpload, err := fileUploadFromForm(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}
	defer closeUpload()

	document, err := h.documents.Create(c.Request.Context(), input, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	var patch records.DocumentPatch
	if isMultipart(c) {
		if _, err := c.MultipartForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if raw := formValue(c, "type"); raw != nil {
			docType, err := records.ParseDocumentType(*raw)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Type = &docType
		}
		if raw := formValue(c, "status"); raw != nil {
			status, err := records.ParseDocumentStatus(*raw)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Status = &status
		}
		patch.Title = formValue(c, "title")
		patch.AuthorName = formValue(c, "author_name")
		patch.Series = formValue(c, "series")
		patch.Description = formValue(c, "description")
		patch.ApprovedBy = formValue(c, "approved_by")
		if raw := formValue(c, "approved_at"); raw != nil {
			approvedAt, err := parseTimestamp(*raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_approved_at"})
				return
			}
			patch.ApprovedAt = &approvedAt
		}
	} else {
		var payload struct {
			Type        *string `json:"type"`
			Status      *string `json:"status"`
			Title       *string `json:"title"`
			AuthorName  *string `json:"author_name"`
			Series      *string `json:"series"`
			Description *string `json:"description"`
			ApprovedBy  *string `json:"approved_by"`
			ApprovedAt  *string `json:"approved_at"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if payload.Type != nil {
			docType, err := records.ParseDocumentType(*payload.Type)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Type = &docType
		}
		if payload.Status != nil {
			status, err := records.ParseDocumentStatus(*payload.Status)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Status = &status
		}
		patch.Title = payload.Title
		patch.AuthorName = payload.AuthorName
		patch.Series = payload.Series
		patch.Description = payload.Description
		patch.ApprovedBy = payload.ApprovedBy
		if payload.ApprovedAt != nil {
			approvedAt, err := parseTimestamp(*payload.ApprovedAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_approved_at"})
				return
			}
			patch.ApprovedAt = &approvedAt
		}
	}

	upload, closeUpload, err := fileUploadFromForm(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}
	defer closeUpload()

	document, err := h.documents.Update(c.Request.Context(), c.Param("id"), patch, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// bindDocumentPayload reads document fields from either a JSON body or a
// multipart form so attachments can ride along with creation.
func (h *httpHandler) bindDocumentPayload(c *gin.Context) (documentPayload, bool) {
	var payload documentPayload
	if isMultipart(c) {
		if _, err := c.MultipartForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return payload, false
		}
		payload.Type = c.PostForm("type")
		payload.Status = c.PostForm("status")
		payload.Title = c.PostForm("title")
		payload.AuthorName = c.PostForm("author_name")
		payload.Series = c.PostForm("series")
		payload.Description = formValue(c, "description")
		payload.ApprovedBy = formValue(c, "approved_by")
		payload.ApprovedAt = formValue(c, "approved_at")
	} else if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return payload, false
	}
	if strings.TrimSpace(payload.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_title"})
		return payload, false
	}
	return payload, true
}

type agendaPayload struct {
	DocumentID string `json:"document_id"`
}

type sessionCreatePayload struct {
	ScheduledAt time.Time       `json:"scheduled_at"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Venue       *string         `json:"venue"`
	Description *string         `json:"description"`
	Agendas     []agendaPayload `json:"agendas"`
}

func (h *httpHandler) handleListSessions(c *gin.Context) {
	sessions, agendas, err := h.sessions.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "agendas": agendas})
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var payload sessionCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.ScheduledAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	sessionType, err := records.ParseSessionType(payload.Type)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status, err := records.ParseSessionStatus(payload.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	input := records.SessionCreate{
		ScheduledAt: payload.ScheduledAt,
		Type:        sessionType,
		Status:      status,
		Venue:       payload.Venue,
		Description: payload.Description,
	}
	session, agendas, err := h.sessions.Create(c.Request.Context(), input, agendaInputs(payload.Agendas))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "agendas": agendas})
}

func (h *httpHandler) handleUpdateSession(c *gin.Context) {
	var payload struct {
		ScheduledAt *time.Time       `json:"scheduled_at"`
		Type        *string          `json:"type"`
		Status      *string          `json:"status"`
		Venue       *string          `json:"venue"`
		Description *string          `json:"description"`
		Agendas     *[]agendaPayload `json:"agendas"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var patch records.SessionPatch
	patch.ScheduledAt = payload.ScheduledAt
	if payload.Type != nil {
		sessionType, err := records.ParseSessionType(*payload.Type)
		if err != nil {
			h.respondError(c, err)
			return
		}
		patch.Type = &sessionType
	}
	if payload.Status != nil {
		status, err := records.ParseSessionStatus(*payload.Status)
		if err != nil {
			h.respondError(c, err)
			return
		}
		patch.Status = &status
	}
	patch.Venue = payload.Venue
	patch.Description = payload.Description

	// A missing agendas key leaves the agenda set untouched; an empty array
	// clears it.
	var agendas []records.AgendaCreate
	if payload.Agendas != nil {
		agendas = agendaInputs(*payload.Agendas)
		if agendas == nil {
			agendas = []records.AgendaCreate{}
		}
	}

	session, attached, err := h.sessions.Update(c.Request.Context(), c.Param("id"), patch, agendas)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "agendas": attached})
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func agendaInputs(payloads []agendaPayload) []records.AgendaCreate {
	if len(payloads) == 0 {
		return nil
	}
	inputs := make([]records.AgendaCreate, 0, len(payloads))
	for _, payload := range payloads {
		inputs = append(inputs, records.AgendaCreate{DocumentID: payload.DocumentID})
	}
	return inputs
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type userPayload struct {
	Firstname string  `json:"firstname"`
	Lastname  string  `json:"lastname"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	Bio       *string `json:"bio"`
}

func (h *httpHandler) bindUserPayload(c *gin.Context) (userPayload, bool) {
	var payload userPayload
	if isMultipart(c) {
		if _, err := c.MultipartForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return payload, false
		}
		payload.Firstname = c.PostForm("firstname")
		payload.Lastname = c.PostForm("lastname")
		payload.Email = c.PostForm("email")
		payload.Role = c.PostForm("role")
		payload.Bio = formValue(c, "bio")
	} else if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return payload, false
	}
	if strings.TrimSpace(payload.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_email"})
		return payload, false
	}
	return payload, true
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	payload, ok := h.bindUserPayload(c)
	if !ok {
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

	user, err := h.users.Create(c.Request.Context(), records.UserCreate{
		Firstname: payload.Firstname,
		Lastname:  payload.Lastname,
		Email:     payload.Email,
		Role:      role,
		Bio:       payload.Bio,
	}, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var patch records.UserPatch
	if isMultipart(c) {
		if _, err := c.MultipartForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		patch.Firstname = formValue(c, "firstname")
		patch.Lastname = formValue(c, "lastname")
		patch.Email = formValue(c, "email")
		if raw := formValue(c, "role"); raw != nil {
			role, err := records.ParseUserRole(*raw)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Role = &role
		}
		patch.Bio = formValue(c, "bio")
	} else {
		var payload struct {
			Firstname *string `json:"firstname"`
			Lastname  *string `json:"lastname"`
			Email     *string `json:"email"`
			Role      *string `json:"role"`
			Bio       *string `json:"bio"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		patch.Firstname = payload.Firstname
		patch.Lastname = payload.Lastname
		patch.Email = payload.Email
		if payload.Role != nil {
			role, err := records.ParseUserRole(*payload.Role)
			if err != nil {
				h.respondError(c, err)
				return
			}
			patch.Role = &role
		}
		patch.Bio = payload.Bio
	}

	user, err := h.users.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.admin.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleDeleteAvatar(c *gin.Context) {
	user, err := h.users.DeleteAvatar(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleListActivity(c *gin.Context) {
	entries, err := h.activity.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []records.QueuedNotification{}})
		return
	}
	entries, err := h.notifications.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": entries})
}
