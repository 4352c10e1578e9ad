package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dispatchConcurrency = 4

var (
	errMissingRecipients = errors.New("notify: recipient lister required")
	errMissingTitles     = errors.New("notify: title resolver required")
	errMissingMailer     = errors.New("notify: mailer required")
)

// RecipientLister resolves the full recipient list for session announcements.
type RecipientLister interface {
	List(ctx context.Context) ([]records.User, error)
}

// TitleResolver resolves document titles for agenda formatting.
type TitleResolver interface {
	TitlesByID(ctx context.Context, ids []string) ([]string, error)
}

// Journal records each delivery attempt. Optional.
type Journal interface {
	Record(ctx context.Context, recipient, subject, body, status string) error
}

// SessionNotifier announces a newly created session to every staff profile.
// It is invoked as a detached task after createSession resolves; every failure
// is caught and logged, never rethrown, and one recipient's failure does not
// cancel the others.
type SessionNotifier struct {
	recipients RecipientLister
	titles     TitleResolver
	mailer     Mailer
	journal    Journal
	logger     *zap.Logger
}

// NewSessionNotifier constructs the notifier. The journal is optional.
func NewSessionNotifier(recipients RecipientLister, titles TitleResolver, mailer Mailer, journal Journal, logger *zap.Logger) (*SessionNotifier, error) {
	if recipients == nil {
		return nil, errMissingRecipients
	}
	if titles == nil {
		return nil, errMissingTitles
	}
	if mailer == nil {
		return nil, errMissingMailer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionNotifier{
		recipients: recipients,
		titles:     titles,
		mailer:     mailer,
		journal:    journal,
		logger:     logger,
	}, nil
}

// Notify resolves recipients and agenda titles, then dispatches one message
// per recipient, all-settled. Runs detached; a panic must not take the
// process down.
func (n *SessionNotifier) Notify(ctx context.Context, session records.Session, agendas []records.Agenda) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logger.Error("session notification panicked", zap.Any("panic", recovered))
		}
	}()

	users, err := n.recipients.List(ctx)
	if err != nil {
		n.logger.Error("failed to fetch notification recipients",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	documentIDs := make([]string, 0, len(agendas))
	for _, agenda := range agendas {
		documentIDs = append(documentIDs, agenda.DocumentID)
	}
	titles, err := n.titles.TitlesByID(ctx, documentIDs)
	if err != nil {
		// The announcement still goes out, just without the agenda list.
		n.logger.Error("failed to resolve agenda document titles",
			zap.String("session_id", session.ID), zap.Error(err))
		titles = nil
	}
	agendaList := formatAgendaList(titles)
	subject := fmt.Sprintf("%s session scheduled for %s",
		capitalize(string(session.Type)), session.ScheduledAt.Format("January 2, 2006"))

	group := errgroup.Group{}
	group.SetLimit(dispatchConcurrency)
	for _, user := range users {
		recipient := user
		group.Go(func() error {
			message := Message{
				Recipient: recipient.Email,
				Subject:   subject,
				Body:      formatSessionBody(recipient, session, agendaList),
			}
			if err := n.mailer.Send(ctx, message); err != nil {
				n.logger.Error("failed to send session notification",
					zap.String("session_id", session.ID),
					zap.String("recipient", recipient.Email),
					zap.Error(err))
				n.record(ctx, message, records.NotificationStatusFailed)
				return nil
			}
			n.logger.Info("session notification sent",
				zap.String("session_id", session.ID),
				zap.String("recipient", recipient.Email))
			n.record(ctx, message, records.NotificationStatusSent)
			return nil
		})
	}
	_ = group.Wait()
}

func (n *SessionNotifier) record(ctx context.Context, message Message, status string) {
	if n.journal == nil {
		return
	}
	if err := n.journal.Record(ctx, message.Recipient, message.Subject, message.Body, status); err != nil {
		n.logger.Warn("failed to journal notification", zap.Error(err))
	}
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}

func formatAgendaList(titles []string) string {
	if len(titles) == 0 {
		return "(no agenda items)"
	}
	lines := make([]string, 0, len(titles))
	for _, title := range titles {
		lines = append(lines, "• "+title)
	}
	return strings.Join(lines, "\n")
}

func formatSessionBody(user records.User, session records.Session, agendaList string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s %s,\n\n", user.Firstname, user.Lastname)
	fmt.Fprintf(&b, "A %s session has been scheduled.\n\n", session.Type)
	fmt.Fprintf(&b, "Date: %s\n", session.ScheduledAt.Format("January 2, 2006"))
	fmt.Fprintf(&b, "Time: %s\n", session.ScheduledAt.Format("3:04 PM"))
	if session.Venue != nil && *session.Venue != "" {
		fmt.Fprintf(&b, "Venue: %s\n", *session.Venue)
	}
	if session.Description != nil && *session.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", *session.Description)
	}
	fmt.Fprintf(&b, "\nAgenda:\n%s\n", agendaList)
	return b.String()
}
