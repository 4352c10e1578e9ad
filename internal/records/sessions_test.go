package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/munilegis/legis/internal/feed"
)

type captureNotifier struct {
	mu      sync.Mutex
	invoked chan struct{}
	session Session
	agendas []Agenda
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{invoked: make(chan struct{})}
}

func (n *captureNotifier) Notify(_ context.Context, session Session, agendas []Agenda) {
	n.mu.Lock()
	n.session = session
	n.agendas = agendas
	n.mu.Unlock()
	close(n.invoked)
}

func (n *captureNotifier) wait(testContext *testing.T) (Session, []Agenda) {
	testContext.Helper()
	select {
	case <-n.invoked:
	case <-time.After(2 * time.Second):
		testContext.Fatalf("notifier was not invoked")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session, n.agendas
}

func sessionInput() SessionCreate {
	return SessionCreate{
		ScheduledAt: time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		Type:        SessionTypeRegular,
		Status:      SessionStatusScheduled,
	}
}

func TestSessionCreateAttachesAgendasAndNotifies(testContext *testing.T) {
	fixture := newFixture(testContext)
	documents := fixture.documents(testContext)
	notifier := newCaptureNotifier()
	sessions := fixture.sessions(testContext, notifier)

	document := createDocument(testContext, documents, "Ordinance 42", DocumentStatusForReview, nil)

	session, attached, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: document.ID}})
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}
	if len(attached) != 1 || attached[0].DocumentID != document.ID || attached[0].SessionID != session.ID {
		testContext.Fatalf("unexpected agenda rows %+v", attached)
	}

	notifiedSession, notifiedAgendas := notifier.wait(testContext)
	if notifiedSession.ID != session.ID || len(notifiedAgendas) != 1 {
		testContext.Fatalf("notifier received wrong payload: %+v %+v", notifiedSession, notifiedAgendas)
	}

	inserts := fixture.publisher.byType(feed.EventInsert)
	var tables []string
	for _, event := range inserts {
		tables = append(tables, event.Table)
	}
	wantSession, wantAgenda := false, false
	for _, table := range tables {
		if table == "sessions" {
			wantSession = true
		}
		if table == "session_documents" {
			wantAgenda = true
		}
	}
	if !wantSession || !wantAgenda {
		testContext.Fatalf("expected insert events for session and agenda, got tables %v", tables)
	}
}

func TestSessionCreateRejectsUnknownDocument(testContext *testing.T) {
	fixture := newFixture(testContext)
	sessions := fixture.sessions(testContext, nil)

	_, _, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: "ghost"}})
	if !errors.Is(err, ErrUnknownDocument) {
		testContext.Fatalf("expected ErrUnknownDocument, got %v", err)
	}

	// The failed transaction must leave nothing behind.
	var count int64
	if err := fixture.db.Model(&Session{}).Count(&count).Error; err != nil || count != 0 {
		testContext.Fatalf("expected no session rows, got %d (err %v)", count, err)
	}
}

func TestSessionUpdateReplacesAgendaSet(testContext *testing.T) {
	fixture := newFixture(testContext)
	documents := fixture.documents(testContext)
	sessions := fixture.sessions(testContext, nil)

	first := createDocument(testContext, documents, "Ordinance 1", DocumentStatusForReview, nil)
	second := createDocument(testContext, documents, "Ordinance 2", DocumentStatusForReview, nil)

	session, _, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: first.ID}})
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	_, attached, err := sessions.Update(context.Background(), session.ID, SessionPatch{},
		[]AgendaCreate{{DocumentID: second.ID}})
	if err != nil {
		testContext.Fatalf("update failed: %v", err)
	}
	if len(attached) != 1 || attached[0].DocumentID != second.ID {
		testContext.Fatalf("expected agenda set replaced, got %+v", attached)
	}

	var rows []Agenda
	if err := fixture.db.Where("session_id = ?", session.ID).Find(&rows).Error; err != nil {
		testContext.Fatalf("failed to load agendas: %v", err)
	}
	if len(rows) != 1 || rows[0].DocumentID != second.ID {
		testContext.Fatalf("expected only the new agenda row, got %+v", rows)
	}
}

func TestSessionUpdateNilAgendasLeavesSetUntouched(testContext *testing.T) {
	fixture := newFixture(testContext)
	documents := fixture.documents(testContext)
	sessions := fixture.sessions(testContext, nil)

	document := createDocument(testContext, documents, "Ordinance 1", DocumentStatusForReview, nil)
	session, _, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: document.ID}})
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	status := SessionStatusOngoing
	_, _, err = sessions.Update(context.Background(), session.ID, SessionPatch{Status: &status}, nil)
	if err != nil {
		testContext.Fatalf("update failed: %v", err)
	}

	var rows []Agenda
	if err := fixture.db.Where("session_id = ?", session.ID).Find(&rows).Error; err != nil {
		testContext.Fatalf("failed to load agendas: %v", err)
	}
	if len(rows) != 1 {
		testContext.Fatalf("agenda set must be untouched, got %d rows", len(rows))
	}
}

func TestSessionUpdateEmptyAgendasClearsSet(testContext *testing.T) {
	fixture := newFixture(testContext)
	documents := fixture.documents(testContext)
	sessions := fixture.sessions(testContext, nil)

	document := createDocument(testContext, documents, "Ordinance 1", DocumentStatusForReview, nil)
	session, _, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: document.ID}})
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	_, attached, err := sessions.Update(context.Background(), session.ID, SessionPatch{}, []AgendaCreate{})
	if err != nil {
		testContext.Fatalf("update failed: %v", err)
	}
	if len(attached) != 0 {
		testContext.Fatalf("expected cleared agenda set, got %+v", attached)
	}

	var count int64
	if err := fixture.db.Model(&Agenda{}).Where("session_id = ?", session.ID).Count(&count).Error; err != nil || count != 0 {
		testContext.Fatalf("expected no agenda rows, got %d (err %v)", count, err)
	}

	deletes := fixture.publisher.byType(feed.EventDelete)
	if len(deletes) != 1 || deletes[0].Table != "session_documents" {
		testContext.Fatalf("expected delete event for removed agenda, got %+v", deletes)
	}
}

func TestSessionDeleteCascadesAgendas(testContext *testing.T) {
	fixture := newFixture(testContext)
	documents := fixture.documents(testContext)
	sessions := fixture.sessions(testContext, nil)

	document := createDocument(testContext, documents, "Ordinance 1", DocumentStatusForReview, nil)
	session, _, err := sessions.Create(context.Background(), sessionInput(),
		[]AgendaCreate{{DocumentID: document.ID}})
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	if err := sessions.Delete(context.Background(), session.ID); err != nil {
		testContext.Fatalf("delete failed: %v", err)
	}
	if _, err := sessions.Get(context.Background(), session.ID); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected session gone, got %v", err)
	}

	var count int64
	if err := fixture.db.Model(&Agenda{}).Count(&count).Error; err != nil || count != 0 {
		testContext.Fatalf("expected agenda rows cascaded, got %d (err %v)", count, err)
	}
}

func TestSessionCreateWithoutNotifierSucceeds(testContext *testing.T) {
	fixture := newFixture(testContext)
	sessions := fixture.sessions(testContext, nil)

	if _, _, err := sessions.Create(context.Background(), sessionInput(), nil); err != nil {
		testContext.Fatalf("create without notifier failed: %v", err)
	}
}
