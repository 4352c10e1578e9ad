package records

import (
	"context"
	"errors"
	"testing"

	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/storage"
)

func createDocument(testContext *testing.T, service *DocumentService, title string, status DocumentStatus, file *FileUpload) Document {
	testContext.Helper()
	document, err := service.Create(context.Background(), DocumentCreate{
		Type:       DocumentTypeOrdinance,
		Status:     status,
		Title:      title,
		AuthorName: "Ana Reyes",
		Series:     "2026",
	}, file)
	if err != nil {
		testContext.Fatalf("failed to create document: %v", err)
	}
	return document
}

func TestDocumentCreateStoresAttachmentUnderTypePrefix(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	document := createDocument(testContext, service, "Ordinance 42", DocumentStatusDraft, upload("zoning.pdf", "content"))

	if document.FilePath == nil || *document.FilePath != "ordinance/ordinance-zoning.pdf" {
		testContext.Fatalf("unexpected attachment path %v", document.FilePath)
	}
	if !fixture.objects.has(storage.BucketDocuments, *document.FilePath) {
		testContext.Fatalf("attachment was not uploaded")
	}
	if document.FileURL == nil || *document.FileURL == "" {
		testContext.Fatalf("expected public file url on the row")
	}

	inserts := fixture.publisher.byType(feed.EventInsert)
	if len(inserts) != 1 || inserts[0].Table != "documents" || inserts[0].RecordID != document.ID {
		testContext.Fatalf("expected one insert event for the document, got %+v", inserts)
	}

	rows := fixture.activityRows(testContext, "documents")
	if len(rows) != 1 || rows[0].Operation != "INSERT" || rows[0].RecordID != document.ID {
		testContext.Fatalf("expected one audit row, got %+v", rows)
	}
}

func TestDocumentCreateRejectsInvalidEnums(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	_, err := service.Create(context.Background(), DocumentCreate{
		Type:   DocumentType("statute"),
		Status: DocumentStatusDraft,
		Title:  "Bad type",
	}, nil)
	if err == nil {
		testContext.Fatalf("expected invalid type to be rejected")
	}
	_, err = service.Create(context.Background(), DocumentCreate{
		Type:   DocumentTypeOrdinance,
		Status: DocumentStatus("pending"),
		Title:  "Bad status",
	}, nil)
	if err == nil {
		testContext.Fatalf("expected invalid status to be rejected")
	}
}

func TestDocumentListNewestFirstAndPublicFilter(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	createDocument(testContext, service, "Draft one", DocumentStatusDraft, nil)
	approved := createDocument(testContext, service, "Approved one", DocumentStatusApproved, nil)
	archived := createDocument(testContext, service, "Archived one", DocumentStatusArchived, nil)

	all, err := service.List(context.Background())
	if err != nil {
		testContext.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].Title != "Archived one" || all[2].Title != "Draft one" {
		testContext.Fatalf("expected newest first ordering, got %+v", all)
	}

	public, err := service.ListPublic(context.Background())
	if err != nil {
		testContext.Fatalf("public list failed: %v", err)
	}
	if len(public) != 2 {
		testContext.Fatalf("expected approved and archived only, got %d", len(public))
	}
	if public[0].ID != archived.ID || public[1].ID != approved.ID {
		testContext.Fatalf("unexpected public ordering %+v", public)
	}
}

func TestDocumentUpdateReplacesAttachmentAndRemovesOldFile(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	document := createDocument(testContext, service, "Ordinance 42", DocumentStatusDraft, upload("v1.pdf", "first"))
	oldPath := *document.FilePath

	newTitle := "Ordinance 42 revised"
	updated, err := service.Update(context.Background(), document.ID, DocumentPatch{Title: &newTitle}, upload("v2.pdf", "second"))
	if err != nil {
		testContext.Fatalf("update failed: %v", err)
	}
	if updated.Title != newTitle {
		testContext.Fatalf("expected title change, got %q", updated.Title)
	}
	if updated.FilePath == nil || *updated.FilePath == oldPath {
		testContext.Fatalf("expected replacement attachment path, got %v", updated.FilePath)
	}
	if fixture.objects.has(storage.BucketDocuments, oldPath) {
		testContext.Fatalf("replaced attachment should have been removed")
	}
	if !fixture.objects.has(storage.BucketDocuments, *updated.FilePath) {
		testContext.Fatalf("new attachment missing from storage")
	}

	updates := fixture.publisher.byType(feed.EventUpdate)
	if len(updates) != 1 || updates[0].RecordID != document.ID {
		testContext.Fatalf("expected one update event, got %+v", updates)
	}
}

func TestDocumentDeleteRemovesRowAndAttachment(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	document := createDocument(testContext, service, "Ordinance 42", DocumentStatusDraft, upload("zoning.pdf", "content"))

	if err := service.Delete(context.Background(), document.ID); err != nil {
		testContext.Fatalf("delete failed: %v", err)
	}
	if _, err := service.Get(context.Background(), document.ID); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected document gone, got %v", err)
	}
	if fixture.objects.has(storage.BucketDocuments, *document.FilePath) {
		testContext.Fatalf("attachment should have been removed")
	}

	deletes := fixture.publisher.byType(feed.EventDelete)
	if len(deletes) != 1 || deletes[0].RecordID != document.ID {
		testContext.Fatalf("expected one delete event, got %+v", deletes)
	}
	if len(deletes[0].Old) == 0 {
		testContext.Fatalf("delete event must carry the old row")
	}
}

func TestDocumentDeleteMissingRowReturnsNotFound(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	if err := service.Delete(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentActivityCarriesActor(testContext *testing.T) {
	fixture := newFixture(testContext)
	service := fixture.documents(testContext)

	ctx := WithActor(context.Background(), "ana@example.gov")
	document, err := service.Create(ctx, DocumentCreate{
		Type:   DocumentTypeResolution,
		Status: DocumentStatusDraft,
		Title:  "Resolution 7",
	}, nil)
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	rows := fixture.activityRows(testContext, "documents")
	if len(rows) != 1 {
		testContext.Fatalf("expected one audit row, got %d", len(rows))
	}
	if rows[0].PerformedBy == nil || *rows[0].PerformedBy != "ana@example.gov" {
		testContext.Fatalf("expected actor on audit row, got %v", rows[0].PerformedBy)
	}
	if rows[0].RecordID != document.ID {
		testContext.Fatalf("audit row references wrong record")
	}

	entries, err := fixture.activity(testContext).List(context.Background())
	if err != nil || len(entries) != 1 {
		testContext.Fatalf("activity list failed: %v (%d rows)", err, len(entries))
	}
}
