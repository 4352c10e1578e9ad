package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opDocumentsNew    = "records.documents.new"
	opDocumentsCreate = "records.documents.create"
	opDocumentsList   = "records.documents.list"
	opDocumentsGet    = "records.documents.get"
	opDocumentsUpdate = "records.documents.update"
	opDocumentsDelete = "records.documents.delete"
)

// DocumentCreate is the validated input for a new document.
type DocumentCreate struct {
	Type        DocumentType
	Status      DocumentStatus
	Title       string
	AuthorName  string
	Series      string
	Description *string
	ApprovedBy  *string
	ApprovedAt  *time.Time
}

// DocumentPatch carries the optional fields of a partial update. Nil fields
// are left untouched.
type DocumentPatch struct {
	Type        *DocumentType
	Status      *DocumentStatus
	Title       *string
	AuthorName  *string
	Series      *string
	Description *string
	ApprovedBy  *string
	ApprovedAt  *time.Time
}

// DocumentService manages the documents table and its file attachments.
type DocumentService struct {
	core
}

// NewDocumentService constructs the document service.
func NewDocumentService(cfg ServiceConfig) (*DocumentService, error) {
	base, err := newCore(cfg, opDocumentsNew)
	if err != nil {
		return nil, err
	}
	return &DocumentService{core: base}, nil
}

// Create inserts a document, uploading its attachment first when one is
// supplied. The attachment lands under <type>/<type>-<filename> in the
// documents bucket and its public URL is recorded on the row.
func (s *DocumentService) Create(ctx context.Context, input DocumentCreate, file *FileUpload) (Document, error) {
	if input.Title == "" {
		return Document{}, newServiceError(opDocumentsCreate, "missing_title", nil)
	}
	if _, err := ParseDocumentType(string(input.Type)); err != nil {
		return Document{}, newServiceError(opDocumentsCreate, "invalid_type", err)
	}
	if _, err := ParseDocumentStatus(string(input.Status)); err != nil {
		return Document{}, newServiceError(opDocumentsCreate, "invalid_status", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opDocumentsCreate, "id_generation_failed", err)
		return Document{}, newServiceError(opDocumentsCreate, "id_generation_failed", err)
	}

	document := Document{
		ID:          id,
		Type:        input.Type,
		Status:      input.Status,
		Title:       input.Title,
		AuthorName:  input.AuthorName,
		Series:      input.Series,
		Description: input.Description,
		ApprovedBy:  input.ApprovedBy,
		ApprovedAt:  input.ApprovedAt,
		CreatedAt:   s.clock().UTC(),
	}

	if file != nil {
		attached, err := s.storeAttachment(ctx, input.Type, file)
		if err != nil {
			s.logError(opDocumentsCreate, "upload_failed", err, zap.String("file", file.Name))
			return Document{}, newServiceError(opDocumentsCreate, "upload_failed", err)
		}
		document.FilePath = &attached.path
		document.FileURL = &attached.url
		document.FileName = &attached.name
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, document.TableName(), string(feed.EventInsert), document.ID, nil, document)
	})
	if txErr != nil {
		s.logError(opDocumentsCreate, "insert_failed", txErr, zap.String("document_id", id))
		return Document{}, newServiceError(opDocumentsCreate, "insert_failed", txErr)
	}

	s.publish(document.TableName(), feed.EventInsert, document.ID, document, nil)
	return document, nil
}

// List returns all documents, most recent first.
func (s *DocumentService) List(ctx context.Context) ([]Document, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&documents).Error; err != nil {
		s.logError(opDocumentsList, "query_failed", err)
		return nil, newServiceError(opDocumentsList, "query_failed", err)
	}
	return documents, nil
}

// ListPublic returns the publicly browsable archive: approved and archived
// documents only, most recent first.
func (s *DocumentService) ListPublic(ctx context.Context) ([]Document, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []DocumentStatus{DocumentStatusApproved, DocumentStatusArchived}).
		Order("created_at DESC").
		Find(&documents).Error; err != nil {
		s.logError(opDocumentsList, "query_failed", err)
		return nil, newServiceError(opDocumentsList, "query_failed", err)
	}
	return documents, nil
}

// Get returns one document by id.
func (s *DocumentService) Get(ctx context.Context, id string) (Document, error) {
	var document Document
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		s.logError(opDocumentsGet, "query_failed", err, zap.String("document_id", id))
		return Document{}, newServiceError(opDocumentsGet, "query_failed", err)
	}
	return document, nil
}

// TitlesByID resolves document titles for the given ids, preserving no
// particular order. Used by the session notifier for agenda formatting.
func (s *DocumentService) TitlesByID(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var titles []string
	if err := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id IN ?", ids).
		Pluck("title", &titles).Error; err != nil {
		s.logError(opDocumentsList, "titles_query_failed", err)
		return nil, newServiceError(opDocumentsList, "titles_query_failed", err)
	}
	return titles, nil
}

// Update applies a partial update and returns the server's resulting row. A
// replacement attachment is uploaded first; the previous file is removed
// best-effort once the new one is in place.
func (s *DocumentService) Update(ctx context.Context, id string, patch DocumentPatch, file *FileUpload) (Document, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	before := existing

	updated := existing
	if patch.Type != nil {
		if _, err := ParseDocumentType(string(*patch.Type)); err != nil {
			return Document{}, newServiceError(opDocumentsUpdate, "invalid_type", err)
		}
		updated.Type = *patch.Type
	}
	if patch.Status != nil {
		if _, err := ParseDocumentStatus(string(*patch.Status)); err != nil {
			return Document{}, newServiceError(opDocumentsUpdate, "invalid_status", err)
		}
		updated.Status = *patch.Status
	}
	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.AuthorName != nil {
		updated.AuthorName = *patch.AuthorName
	}
	if patch.Series != nil {
		updated.Series = *patch.Series
	}
	if patch.Description != nil {
		updated.Description = patch.Description
	}
	if patch.ApprovedBy != nil {
		updated.ApprovedBy = patch.ApprovedBy
	}
	if patch.ApprovedAt != nil {
		updated.ApprovedAt = patch.ApprovedAt
	}

	if file != nil {
		attached, err := s.storeAttachment(ctx, updated.Type, file)
		if err != nil {
			s.logError(opDocumentsUpdate, "upload_failed", err, zap.String("file", file.Name))
			return Document{}, newServiceError(opDocumentsUpdate, "upload_failed", err)
		}
		oldPath := existing.FilePath
		updated.FilePath = &attached.path
		updated.FileURL = &attached.url
		updated.FileName = &attached.name
		if oldPath != nil && *oldPath != attached.path && s.objects != nil {
			if err := s.objects.Delete(ctx, storage.BucketDocuments, *oldPath); err != nil {
				s.logger.Warn("failed to delete replaced document file",
					zap.String("path", *oldPath), zap.Error(err))
			}
		}
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, updated.TableName(), string(feed.EventUpdate), updated.ID, before, updated)
	})
	if txErr != nil {
		s.logError(opDocumentsUpdate, "save_failed", txErr, zap.String("document_id", id))
		return Document{}, newServiceError(opDocumentsUpdate, "save_failed", txErr)
	}

	s.publish(updated.TableName(), feed.EventUpdate, updated.ID, updated, before)
	return updated, nil
}

// Delete removes a document and its stored attachment. The attachment is
// removed first, matching the original contract: a storage failure aborts the
// delete so no row ever points at a file that was half-removed.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if existing.FilePath != nil && *existing.FilePath != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, storage.BucketDocuments, *existing.FilePath); err != nil &&
			!errors.Is(err, storage.ErrObjectNotFound) {
			s.logError(opDocumentsDelete, "file_delete_failed", err, zap.String("document_id", id))
			return newServiceError(opDocumentsDelete, "file_delete_failed", err)
		}
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&Document{}).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, existing.TableName(), string(feed.EventDelete), id, existing, nil)
	})
	if txErr != nil {
		s.logError(opDocumentsDelete, "delete_failed", txErr, zap.String("document_id", id))
		return newServiceError(opDocumentsDelete, "delete_failed", txErr)
	}

	s.publish(existing.TableName(), feed.EventDelete, id, nil, existing)
	return nil
}

type storedAttachment struct {
	path string
	url  string
	name string
}

func (s *DocumentService) storeAttachment(ctx context.Context, docType DocumentType, file *FileUpload) (storedAttachment, error) {
	if s.objects == nil {
		return storedAttachment{}, errors.New("object store not configured")
	}
	filename := fmt.Sprintf("%s-%s", docType, file.Name)
	path := fmt.Sprintf("%s/%s", docType, filename)
	if err := s.objects.Upload(ctx, storage.BucketDocuments, path, file.Reader, true); err != nil {
		return storedAttachment{}, err
	}
	return storedAttachment{
		path: path,
		url:  s.objects.PublicURL(storage.BucketDocuments, path),
		name: file.Name,
	}, nil
}
