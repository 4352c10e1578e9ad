package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/munilegis/legis/internal/feed"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opSessionsNew    = "records.sessions.new"
	opSessionsCreate = "records.sessions.create"
	opSessionsList   = "records.sessions.list"
	opSessionsUpdate = "records.sessions.update"
	opSessionsDelete = "records.sessions.delete"
)

// ErrUnknownDocument indicates an agenda entry referencing a document that
// does not exist.
var ErrUnknownDocument = errors.New("records: agenda references unknown document")

// SessionCreate is the validated input for a new session.
type SessionCreate struct {
	ScheduledAt time.Time
	Type        SessionType
	Status      SessionStatus
	Venue       *string
	Description *string
}

// SessionPatch carries the optional fields of a partial session update.
type SessionPatch struct {
	ScheduledAt *time.Time
	Type        *SessionType
	Status      *SessionStatus
	Venue       *string
	Description *string
}

// AgendaCreate attaches one document to a session under creation or update.
type AgendaCreate struct {
	DocumentID string
}

// SessionNotifier is invoked as a detached task after a session is created.
// Implementations must absorb their own failures; session creation never
// depends on notification outcome.
type SessionNotifier interface {
	Notify(ctx context.Context, session Session, agendas []Agenda)
}

// SessionService manages sessions and their agenda join rows.
type SessionService struct {
	core
	notifier SessionNotifier
}

// NewSessionService constructs the session service. The notifier is optional.
func NewSessionService(cfg ServiceConfig, notifier SessionNotifier) (*SessionService, error) {
	base, err := newCore(cfg, opSessionsNew)
	if err != nil {
		return nil, err
	}
	return &SessionService{core: base, notifier: notifier}, nil
}

// Create inserts a session and its agenda rows in one transaction, then
// notifies recipients in the background. Agenda entries must reference
// existing documents.
func (s *SessionService) Create(ctx context.Context, input SessionCreate, agendas []AgendaCreate) (Session, []Agenda, error) {
	if _, err := ParseSessionType(string(input.Type)); err != nil {
		return Session{}, nil, newServiceError(opSessionsCreate, "invalid_type", err)
	}
	if _, err := ParseSessionStatus(string(input.Status)); err != nil {
		return Session{}, nil, newServiceError(opSessionsCreate, "invalid_status", err)
	}
	if input.ScheduledAt.IsZero() {
		return Session{}, nil, newServiceError(opSessionsCreate, "missing_schedule", nil)
	}

	sessionID, err := s.ids.NewID()
	if err != nil {
		s.logError(opSessionsCreate, "id_generation_failed", err)
		return Session{}, nil, newServiceError(opSessionsCreate, "id_generation_failed", err)
	}

	session := Session{
		ID:          sessionID,
		ScheduledAt: input.ScheduledAt.UTC(),
		Type:        input.Type,
		Status:      input.Status,
		Venue:       input.Venue,
		Description: input.Description,
		CreatedAt:   s.clock().UTC(),
	}

	var attached []Agenda
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		if err := s.recordActivity(ctx, tx, session.TableName(), string(feed.EventInsert), session.ID, nil, session); err != nil {
			return err
		}
		rows, err := s.attachAgendas(ctx, tx, session.ID, agendas)
		if err != nil {
			return err
		}
		attached = rows
		return nil
	})
	if txErr != nil {
		s.logError(opSessionsCreate, "insert_failed", txErr, zap.String("session_id", sessionID))
		return Session{}, nil, newServiceError(opSessionsCreate, "insert_failed", txErr)
	}

	s.publish(session.TableName(), feed.EventInsert, session.ID, session, nil)
	for _, agenda := range attached {
		s.publish(agenda.TableName(), feed.EventInsert, agenda.ID, agenda, nil)
	}

	if s.notifier != nil {
		// Detached from the request: the session exists regardless of
		// notification outcome.
		go s.notifier.Notify(context.WithoutCancel(ctx), session, attached)
	}

	return session, attached, nil
}

// List returns all sessions and all agenda rows, each most recent first.
func (s *SessionService) List(ctx context.Context) ([]Session, []Agenda, error) {
	var sessions []Session
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		s.logError(opSessionsList, "query_failed", err)
		return nil, nil, newServiceError(opSessionsList, "query_failed", err)
	}
	var agendas []Agenda
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&agendas).Error; err != nil {
		s.logError(opSessionsList, "agenda_query_failed", err)
		return nil, nil, newServiceError(opSessionsList, "agenda_query_failed", err)
	}
	return sessions, agendas, nil
}

// Get returns one session by id.
func (s *SessionService) Get(ctx context.Context, id string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		s.logError(opSessionsList, "query_failed", err, zap.String("session_id", id))
		return Session{}, newServiceError(opSessionsList, "query_failed", err)
	}
	return session, nil
}

// Update applies a partial update and, when agendas is non-nil, replaces the
// session's agenda set wholesale: existing rows are removed, new rows
// inserted.
func (s *SessionService) Update(ctx context.Context, id string, patch SessionPatch, agendas []AgendaCreate) (Session, []Agenda, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}
	before := existing

	updated := existing
	if patch.ScheduledAt != nil {
		updated.ScheduledAt = patch.ScheduledAt.UTC()
	}
	if patch.Type != nil {
		if _, err := ParseSessionType(string(*patch.Type)); err != nil {
			return Session{}, nil, newServiceError(opSessionsUpdate, "invalid_type", err)
		}
		updated.Type = *patch.Type
	}
	if patch.Status != nil {
		if _, err := ParseSessionStatus(string(*patch.Status)); err != nil {
			return Session{}, nil, newServiceError(opSessionsUpdate, "invalid_status", err)
		}
		updated.Status = *patch.Status
	}
	if patch.Venue != nil {
		updated.Venue = patch.Venue
	}
	if patch.Description != nil {
		updated.Description = patch.Description
	}

	var removed []Agenda
	var attached []Agenda
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		if err := s.recordActivity(ctx, tx, updated.TableName(), string(feed.EventUpdate), updated.ID, before, updated); err != nil {
			return err
		}
		if agendas == nil {
			return nil
		}
		if err := tx.Where("session_id = ?", id).Find(&removed).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&Agenda{}).Error; err != nil {
			return err
		}
		rows, err := s.attachAgendas(ctx, tx, id, agendas)
		if err != nil {
			return err
		}
		attached = rows
		return nil
	})
	if txErr != nil {
		s.logError(opSessionsUpdate, "save_failed", txErr, zap.String("session_id", id))
		return Session{}, nil, newServiceError(opSessionsUpdate, "save_failed", txErr)
	}

	s.publish(updated.TableName(), feed.EventUpdate, updated.ID, updated, before)
	for _, agenda := range removed {
		s.publish(agenda.TableName(), feed.EventDelete, agenda.ID, nil, agenda)
	}
	for _, agenda := range attached {
		s.publish(agenda.TableName(), feed.EventInsert, agenda.ID, agenda, nil)
	}
	return updated, attached, nil
}

// Delete removes a session and cascades its agenda rows.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var removed []Agenda
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Find(&removed).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&Agenda{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&Session{}).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, existing.TableName(), string(feed.EventDelete), id, existing, nil)
	})
	if txErr != nil {
		s.logError(opSessionsDelete, "delete_failed", txErr, zap.String("session_id", id))
		return newServiceError(opSessionsDelete, "delete_failed", txErr)
	}

	for _, agenda := range removed {
		s.publish(agenda.TableName(), feed.EventDelete, agenda.ID, nil, agenda)
	}
	s.publish(existing.TableName(), feed.EventDelete, id, nil, existing)
	return nil
}

// attachAgendas validates document references and inserts the agenda rows.
func (s *SessionService) attachAgendas(ctx context.Context, tx *gorm.DB, sessionID string, agendas []AgendaCreate) ([]Agenda, error) {
	if len(agendas) == 0 {
		return nil, nil
	}
	documentIDs := make([]string, 0, len(agendas))
	for _, agenda := range agendas {
		if agenda.DocumentID == "" {
			return nil, fmt.Errorf("%w: empty document id", ErrUnknownDocument)
		}
		documentIDs = append(documentIDs, agenda.DocumentID)
	}
	var known int64
	if err := tx.Model(&Document{}).Where("id IN ?", documentIDs).Count(&known).Error; err != nil {
		return nil, err
	}
	if known != int64(len(uniqueStrings(documentIDs))) {
		return nil, ErrUnknownDocument
	}

	rows := make([]Agenda, 0, len(agendas))
	for _, agenda := range agendas {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, err
		}
		row := Agenda{
			ID:         id,
			SessionID:  sessionID,
			DocumentID: agenda.DocumentID,
			CreatedAt:  s.clock().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		if err := s.recordActivity(ctx, tx, row.TableName(), string(feed.EventInsert), row.ID, nil, row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := values[:0:0]
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
