package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("records: invalid record id")
	// ErrInvalidDocumentType indicates an unrecognized document type value.
	ErrInvalidDocumentType = errors.New("records: invalid document type")
	// ErrInvalidDocumentStatus indicates an unrecognized document status value.
	ErrInvalidDocumentStatus = errors.New("records: invalid document status")
	// ErrInvalidSessionType indicates an unrecognized session type value.
	ErrInvalidSessionType = errors.New("records: invalid session type")
	// ErrInvalidSessionStatus indicates an unrecognized session status value.
	ErrInvalidSessionStatus = errors.New("records: invalid session status")
	// ErrInvalidUserRole indicates an unrecognized user role value.
	ErrInvalidUserRole = errors.New("records: invalid user role")
)

// RecordID represents a validated record identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// DocumentType enumerates the kinds of legislative documents.
type DocumentType string

const (
	DocumentTypeOrdinance  DocumentType = "ordinance"
	DocumentTypeResolution DocumentType = "resolution"
	DocumentTypeMemorandum DocumentType = "memorandum"
)

// ParseDocumentType validates a raw document type value.
func ParseDocumentType(value string) (DocumentType, error) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(value))) {
	case DocumentTypeOrdinance:
		return DocumentTypeOrdinance, nil
	case DocumentTypeResolution:
		return DocumentTypeResolution, nil
	case DocumentTypeMemorandum:
		return DocumentTypeMemorandum, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDocumentType, value)
	}
}

// DocumentStatus enumerates the lifecycle states of a document.
//
// The transition graph (draft -> for_review -> in_session -> approved/rejected
// -> archived/vetoed) is a UI affordance; the service accepts any known status
// on update so agenda review can jump straight to approved or rejected.
type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "draft"
	DocumentStatusForReview DocumentStatus = "for_review"
	DocumentStatusInSession DocumentStatus = "in_session"
	DocumentStatusApproved  DocumentStatus = "approved"
	DocumentStatusRejected  DocumentStatus = "rejected"
	DocumentStatusArchived  DocumentStatus = "archived"
	DocumentStatusVetoed    DocumentStatus = "vetoed"
)

// ParseDocumentStatus validates a raw document status value.
func ParseDocumentStatus(value string) (DocumentStatus, error) {
	switch DocumentStatus(strings.ToLower(strings.TrimSpace(value))) {
	case DocumentStatusDraft:
		return DocumentStatusDraft, nil
	case DocumentStatusForReview:
		return DocumentStatusForReview, nil
	case DocumentStatusInSession:
		return DocumentStatusInSession, nil
	case DocumentStatusApproved:
		return DocumentStatusApproved, nil
	case DocumentStatusRejected:
		return DocumentStatusRejected, nil
	case DocumentStatusArchived:
		return DocumentStatusArchived, nil
	case DocumentStatusVetoed:
		return DocumentStatusVetoed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDocumentStatus, value)
	}
}

// SessionType enumerates legislative session kinds.
type SessionType string

const (
	SessionTypeRegular SessionType = "regular"
	SessionTypeSpecial SessionType = "special"
)

// ParseSessionType validates a raw session type value.
func ParseSessionType(value string) (SessionType, error) {
	switch SessionType(strings.ToLower(strings.TrimSpace(value))) {
	case SessionTypeRegular:
		return SessionTypeRegular, nil
	case SessionTypeSpecial:
		return SessionTypeSpecial, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionType, value)
	}
}

// SessionStatus enumerates the lifecycle states of a session.
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "draft"
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusOngoing   SessionStatus = "ongoing"
	SessionStatusCompleted SessionStatus = "completed"
)

// ParseSessionStatus validates a raw session status value.
func ParseSessionStatus(value string) (SessionStatus, error) {
	switch SessionStatus(strings.ToLower(strings.TrimSpace(value))) {
	case SessionStatusDraft:
		return SessionStatusDraft, nil
	case SessionStatusScheduled:
		return SessionStatusScheduled, nil
	case SessionStatusOngoing:
		return SessionStatusOngoing, nil
	case SessionStatusCompleted:
		return SessionStatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionStatus, value)
	}
}

// UserRole enumerates council staff roles.
type UserRole string

const (
	UserRoleMayor     UserRole = "mayor"
	UserRoleViceMayor UserRole = "vice_mayor"
	UserRoleCouncilor UserRole = "councilor"
	UserRoleSecretary UserRole = "secretary"
	UserRoleOthers    UserRole = "others"
)

// ParseUserRole validates a raw user role value.
func ParseUserRole(value string) (UserRole, error) {
	switch UserRole(strings.ToLower(strings.TrimSpace(value))) {
	case UserRoleMayor:
		return UserRoleMayor, nil
	case UserRoleViceMayor:
		return UserRoleViceMayor, nil
	case UserRoleCouncilor:
		return UserRoleCouncilor, nil
	case UserRoleSecretary:
		return UserRoleSecretary, nil
	case UserRoleOthers:
		return UserRoleOthers, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUserRole, value)
	}
}

// Document models a persisted ordinance, resolution or memorandum.
type Document struct {
	ID         string         `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Type       DocumentType   `gorm:"column:type;size:32;not null;index" json:"type"`
	Status     DocumentStatus `gorm:"column:status;size:32;not null;index" json:"status"`
	Title      string         `gorm:"column:title;size:320;not null" json:"title"`
	AuthorName string         `gorm:"column:author_name;size:190;not null" json:"author_name"`
	Series     string         `gorm:"column:series;size:32;not null" json:"series"`

	Description *string    `gorm:"column:description;type:text" json:"description,omitempty"`
	ApprovedBy  *string    `gorm:"column:approved_by;size:190" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`

	FilePath *string `gorm:"column:file_path;size:512" json:"file_path,omitempty"`
	FileURL  *string `gorm:"column:file_url;size:512" json:"file_url,omitempty"`
	FileName *string `gorm:"column:file_name;size:320" json:"file_name,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// EntityID returns the document primary key.
func (d Document) EntityID() string {
	return d.ID
}

// Session models a scheduled legislative session.
type Session struct {
	ID          string        `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	ScheduledAt time.Time     `gorm:"column:scheduled_at;not null;index" json:"scheduled_at"`
	Type        SessionType   `gorm:"column:type;size:32;not null" json:"type"`
	Status      SessionStatus `gorm:"column:status;size:32;not null;index" json:"status"`
	Venue       *string       `gorm:"column:venue;size:320" json:"venue,omitempty"`
	Description *string       `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedAt   time.Time     `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// EntityID returns the session primary key.
func (s Session) EntityID() string {
	return s.ID
}

// Agenda joins a document to a session's review list.
type Agenda struct {
	ID         string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	SessionID  string    `gorm:"column:session_id;size:36;not null;index" json:"session_id"`
	DocumentID string    `gorm:"column:document_id;size:36;not null;index" json:"document_id"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName binds the join entity to the session_documents table.
func (Agenda) TableName() string {
	return "session_documents"
}

// EntityID returns the agenda primary key.
func (a Agenda) EntityID() string {
	return a.ID
}

// User models a council staff profile. One profile corresponds 1:1 with an
// authentication identity; the email cross-references the two.
type User struct {
	ID        string   `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Firstname string   `gorm:"column:firstname;size:190;not null" json:"firstname"`
	Lastname  string   `gorm:"column:lastname;size:190;not null" json:"lastname"`
	Email     string   `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Role      UserRole `gorm:"column:role;size:32;not null" json:"role"`
	Bio       *string  `gorm:"column:bio;type:text" json:"bio,omitempty"`

	AvatarURL  *string `gorm:"column:avatar_url;size:512" json:"avatar_url,omitempty"`
	AvatarPath *string `gorm:"column:avatar_path;size:512" json:"avatar_path,omitempty"`

	PasswordHash string `gorm:"column:password_hash;size:190;not null;default:''" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// EntityID returns the user primary key.
func (u User) EntityID() string {
	return u.ID
}

// ActivityLog captures an append-only audit trail entry. Rows are produced by
// the records services on every mutation and never updated or deleted.
type ActivityLog struct {
	ID          string          `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Table       string          `gorm:"column:table_name;size:64;not null;index" json:"table_name"`
	Operation   string          `gorm:"column:operation;size:16;not null" json:"operation"`
	RecordID    string          `gorm:"column:record_id;size:36;not null;index" json:"record_id"`
	ChangedData json.RawMessage `gorm:"column:changed_data;type:text" json:"changed_data,omitempty"`
	PerformedBy *string         `gorm:"column:performed_by;size:190" json:"performed_by,omitempty"`
	PerformedAt time.Time       `gorm:"column:performed_at;not null;index" json:"performed_at"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// EntityID returns the activity log primary key.
func (l ActivityLog) EntityID() string {
	return l.ID
}

// QueuedNotification is a pending outbound message awaiting delivery.
type QueuedNotification struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Recipient string    `gorm:"column:recipient;size:320;not null" json:"recipient"`
	Subject   string    `gorm:"column:subject;size:320;not null" json:"subject"`
	Body      string    `gorm:"column:body;type:text;not null" json:"body"`
	Status    string    `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName binds queued notifications to the notifications_queue table.
func (QueuedNotification) TableName() string {
	return "notifications_queue"
}

// OneTimeCode backs the password-reset-by-OTP flow. Application data, not part
// of the token issuer.
type OneTimeCode struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Email     string    `gorm:"column:email;size:320;not null;index" json:"email"`
	Code      string    `gorm:"column:code;size:12;not null" json:"code"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	Used      bool      `gorm:"column:used;not null;default:false" json:"used"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName binds OTP rows to the one_time_codes table.
func (OneTimeCode) TableName() string {
	return "one_time_codes"
}
