// Package server exposes the HTTP surface: authentication, record CRUD,
// realtime change streaming, file downloads and backup administration.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/munilegis/legis/internal/admin"
	"github.com/munilegis/legis/internal/auth"
	"github.com/munilegis/legis/internal/backup"
	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/records"
	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "legis_user_id"
	userEmailContextKey = "legis_user_email"
	userRoleContextKey  = "legis_user_role"
)

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingDocuments     = errors.New("document service dependency required")
	errMissingSessions      = errors.New("session service dependency required")
	errMissingUsers         = errors.New("user service dependency required")
	errMissingActivity      = errors.New("activity service dependency required")
	errMissingAdmin         = errors.New("admin service dependency required")
	errMissingBackups       = errors.New("backup coordinator dependency required")
	errMissingDispatcher    = errors.New("feed dispatcher dependency required")
	errMissingObjects       = errors.New("object store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies carries everything the HTTP handler needs.
type Dependencies struct {
	Authenticator *auth.Authenticator
	Tokens        *auth.TokenIssuer
	Documents     *records.DocumentService
	Sessions      *records.SessionService
	Users         *records.UserService
	Activity      *records.ActivityService
	Notifications *records.NotificationJournal
	Admin         *admin.Service
	Backups       *backup.Coordinator
	Feed          *feed.Dispatcher
	Objects       storage.ObjectStore
	Signer        *storage.URLSigner
	SignedURLTTL  time.Duration
	Logger        *zap.Logger
}

// NewHTTPHandler wires the router. Public routes cover sign-in, the password
// reset flow, published documents and file downloads; everything else sits
// behind bearer authentication.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Documents == nil {
		return nil, errMissingDocuments
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Activity == nil {
		return nil, errMissingActivity
	}
	if deps.Admin == nil {
		return nil, errMissingAdmin
	}
	if deps.Backups == nil {
		return nil, errMissingBackups
	}
	if deps.Feed == nil {
		return nil, errMissingDispatcher
	}
	if deps.Objects == nil {
		return nil, errMissingObjects
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signedTTL := deps.SignedURLTTL
	if signedTTL <= 0 {
		signedTTL = 24 * time.Hour
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		tokens:        deps.Tokens,
		documents:     deps.Documents,
		sessions:      deps.Sessions,
		users:         deps.Users,
		activity:      deps.Activity,
		notifications: deps.Notifications,
		admin:         deps.Admin,
		backups:       deps.Backups,
		feed:          deps.Feed,
		objects:       deps.Objects,
		signer:        deps.Signer,
		signedTTL:     signedTTL,
		logger:        logger,
	}

	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/otp/send", handler.handleSendOTP)
	router.POST("/auth/otp/reset", handler.handleResetPassword)
	router.GET("/public/documents", handler.handleListPublicDocuments)
	router.GET("/files/:bucket/*object", handler.handleDownloadFile)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/auth/password", handler.handleChangePassword)

	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/:id", handler.handleGetDocument)
	protected.PUT("/documents/:id", handler.handleUpdateDocument)
	protected.DELETE("/documents/:id", handler.handleDeleteDocument)

	protected.GET("/sessions", handler.handleListSessions)
	protected.POST("/sessions", handler.handleCreateSession)
	protected.GET("/sessions/:id", handler.handleGetSession)
	protected.PUT("/sessions/:id", handler.handleUpdateSession)
	protected.DELETE("/sessions/:id", handler.handleDeleteSession)

	protected.GET("/users", handler.handleListUsers)
	protected.POST("/users", handler.handleCreateUser)
	protected.POST("/users/invite", handler.handleInviteUser)
	protected.GET("/users/:id", handler.handleGetUser)
	protected.PUT("/users/:id", handler.handleUpdateUser)
	protected.DELETE("/users/:id", handler.handleDeleteUser)
	protected.DELETE("/users/:id/avatar", handler.handleDeleteAvatar)

	protected.GET("/activity", handler.handleListActivity)
	protected.GET("/notifications", handler.handleListNotifications)

	protected.GET("/backups", handler.handleListBackups)
	protected.POST("/backups", handler.handleExportBackup)
	protected.POST("/backups/restore", handler.handleRestoreBackup)
	protected.GET("/backups/:name/url", handler.handleBackupURL)
	protected.DELETE("/backups/:name", handler.handleDeleteBackup)

	protected.GET("/realtime/:table", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	authenticator *auth.Authenticator
	tokens        *auth.TokenIssuer
	documents     *records.DocumentService
	sessions      *records.SessionService
	users         *records.UserService
	activity      *records.ActivityService
	notifications *records.NotificationJournal
	admin         *admin.Service
	backups       *backup.Coordinator
	feed          *feed.Dispatcher
	objects       storage.ObjectStore
	signer        *storage.URLSigner
	signedTTL     time.Duration
	logger        *zap.Logger
}

// authorizeRequest validates the bearer token and stamps the authenticated
// identity onto the gin context and the request context so audit rows carry
// the acting email.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(userEmailContextKey, claims.Email)
	c.Set(userRoleContextKey, claims.Role)
	c.Request = c.Request.WithContext(records.WithActor(c.Request.Context(), claims.Email))
	c.Next()
}

// respondError maps domain errors onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, records.ErrUnknownDocument),
		errors.Is(err, records.ErrInvalidDocumentType),
		errors.Is(err, records.ErrInvalidDocumentStatus),
		errors.Is(err, records.ErrInvalidSessionType),
		errors.Is(err, records.ErrInvalidSessionStatus),
		errors.Is(err, records.ErrInvalidUserRole),
		errors.Is(err, records.ErrInvalidRecordID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNoCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, auth.ErrInvalidOTP):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
	default:
		var serviceErr *records.ServiceError
		if errors.As(err, &serviceErr) {
			h.logger.Error("request failed", zap.String("code", serviceErr.Code()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErr.Code()})
			return
		}
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type signInRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponsePayload struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	TokenType   string       `json:"token_type"`
	User        records.User `json:"user"`
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.authenticator.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, signInResponsePayload{
		AccessToken: result.Token,
		ExpiresIn:   result.ExpiresIn,
		TokenType:   "Bearer",
		User:        result.User,
	})
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	var request changePasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		request.CurrentPassword == "" || request.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if err := h.authenticator.UpdatePassword(c.Request.Context(), userID, request.CurrentPassword, request.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type otpSendPayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleSendOTP(c *gin.Context) {
	var request otpSendPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.admin.SendOTP(c.Request.Context(), request.Email)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		// Unknown emails report success so the endpoint cannot be used to
		// probe which addresses hold accounts.
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type otpResetPayload struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request otpResetPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Code == "" || request.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.admin.ResetPassword(c.Request.Context(), request.Email, request.Code, request.NewPassword)
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
