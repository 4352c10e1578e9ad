package records

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opUsersNew          = "records.users.new"
	opUsersCreate       = "records.users.create"
	opUsersList         = "records.users.list"
	opUsersGet          = "records.users.get"
	opUsersUpdate       = "records.users.update"
	opUsersDelete       = "records.users.delete"
	opUsersDeleteAvatar = "records.users.delete_avatar"
)

// UserCreate is the validated input for a new staff profile.
type UserCreate struct {
	Firstname string
	Lastname  string
	Email     string
	Role      UserRole
	Bio       *string
}

// UserPatch carries the optional fields of a partial profile update.
type UserPatch struct {
	Firstname *string
	Lastname  *string
	Email     *string
	Role      *UserRole
	Bio       *string
}

// UserService manages staff profiles and their avatars.
type UserService struct {
	core
}

// NewUserService constructs the user service.
func NewUserService(cfg ServiceConfig) (*UserService, error) {
	base, err := newCore(cfg, opUsersNew)
	if err != nil {
		return nil, err
	}
	return &UserService{core: base}, nil
}

// Create uploads the avatar first (when supplied) and then inserts the
// profile row referencing it.
func (s *UserService) Create(ctx context.Context, input UserCreate, avatar *FileUpload) (User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return User{}, newServiceError(opUsersCreate, "missing_email", nil)
	}
	if _, err := ParseUserRole(string(input.Role)); err != nil {
		return User{}, newServiceError(opUsersCreate, "invalid_role", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opUsersCreate, "id_generation_failed", err)
		return User{}, newServiceError(opUsersCreate, "id_generation_failed", err)
	}

	user := User{
		ID:        id,
		Firstname: input.Firstname,
		Lastname:  input.Lastname,
		Email:     email,
		Role:      input.Role,
		Bio:       input.Bio,
		CreatedAt: s.clock().UTC(),
	}

	if avatar != nil {
		avatarPath, avatarURL, err := s.storeAvatar(ctx, input.Firstname, avatar)
		if err != nil {
			s.logError(opUsersCreate, "avatar_upload_failed", err, zap.String("file", avatar.Name))
			return User{}, newServiceError(opUsersCreate, "avatar_upload_failed", err)
		}
		user.AvatarPath = &avatarPath
		user.AvatarURL = &avatarURL
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, user.TableName(), string(feed.EventInsert), user.ID, nil, user)
	})
	if txErr != nil {
		s.logError(opUsersCreate, "insert_failed", txErr, zap.String("email", email))
		return User{}, newServiceError(opUsersCreate, "insert_failed", txErr)
	}

	s.publish(user.TableName(), feed.EventInsert, user.ID, user, nil)
	return user, nil
}

// List returns all staff profiles, most recent first.
func (s *UserService) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		s.logError(opUsersList, "query_failed", err)
		return nil, newServiceError(opUsersList, "query_failed", err)
	}
	return users, nil
}

// Get returns one profile by id.
func (s *UserService) Get(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		s.logError(opUsersGet, "query_failed", err, zap.String("user_id", id))
		return User{}, newServiceError(opUsersGet, "query_failed", err)
	}
	return user, nil
}

// GetByEmail cross-references an authentication identity to its profile row.
func (s *UserService) GetByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	if err != nil {
		s.logError(opUsersGet, "query_failed", err)
		return User{}, newServiceError(opUsersGet, "query_failed", err)
	}
	return user, nil
}

// Update applies a partial profile update and returns the server's row.
func (s *UserService) Update(ctx context.Context, id string, patch UserPatch) (User, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	before := existing

	updated := existing
	if patch.Firstname != nil {
		updated.Firstname = *patch.Firstname
	}
	if patch.Lastname != nil {
		updated.Lastname = *patch.Lastname
	}
	if patch.Email != nil {
		updated.Email = strings.ToLower(strings.TrimSpace(*patch.Email))
	}
	if patch.Role != nil {
		if _, err := ParseUserRole(string(*patch.Role)); err != nil {
			return User{}, newServiceError(opUsersUpdate, "invalid_role", err)
		}
		updated.Role = *patch.Role
	}
	if patch.Bio != nil {
		updated.Bio = patch.Bio
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, updated.TableName(), string(feed.EventUpdate), updated.ID, before, updated)
	})
	if txErr != nil {
		s.logError(opUsersUpdate, "save_failed", txErr, zap.String("user_id", id))
		return User{}, newServiceError(opUsersUpdate, "save_failed", txErr)
	}

	s.publish(updated.TableName(), feed.EventUpdate, updated.ID, updated, before)
	return updated, nil
}

// SetPasswordHash stores new credentials for the profile. No activity row is
// recorded; credential changes never carry their payload into the audit trail.
func (s *UserService) SetPasswordHash(ctx context.Context, id, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		s.logError(opUsersUpdate, "password_save_failed", result.Error, zap.String("user_id", id))
		return newServiceError(opUsersUpdate, "password_save_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a profile row.
func (s *UserService) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&User{}).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, existing.TableName(), string(feed.EventDelete), id, existing, nil)
	})
	if txErr != nil {
		s.logError(opUsersDelete, "delete_failed", txErr, zap.String("user_id", id))
		return newServiceError(opUsersDelete, "delete_failed", txErr)
	}
	s.publish(existing.TableName(), feed.EventDelete, id, nil, existing)
	return nil
}

// DeleteAvatar removes the stored avatar object and clears the profile's
// avatar columns. A profile without an avatar is a no-op.
func (s *UserService) DeleteAvatar(ctx context.Context, id string) (User, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if existing.AvatarPath == nil || *existing.AvatarPath == "" {
		return existing, nil
	}
	if s.objects != nil {
		if err := s.objects.Delete(ctx, storage.BucketAvatars, *existing.AvatarPath); err != nil &&
			!errors.Is(err, storage.ErrObjectNotFound) {
			s.logError(opUsersDeleteAvatar, "object_delete_failed", err, zap.String("user_id", id))
			return User{}, newServiceError(opUsersDeleteAvatar, "object_delete_failed", err)
		}
	}

	before := existing
	updated := existing
	updated.AvatarPath = nil
	updated.AvatarURL = nil
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"avatar_path": nil, "avatar_url": nil}).Error; err != nil {
			return err
		}
		return s.recordActivity(ctx, tx, updated.TableName(), string(feed.EventUpdate), id, before, updated)
	})
	if txErr != nil {
		s.logError(opUsersDeleteAvatar, "save_failed", txErr, zap.String("user_id", id))
		return User{}, newServiceError(opUsersDeleteAvatar, "save_failed", txErr)
	}

	s.publish(updated.TableName(), feed.EventUpdate, id, updated, before)
	return updated, nil
}

func (s *UserService) storeAvatar(ctx context.Context, firstname string, avatar *FileUpload) (string, string, error) {
	if s.objects == nil {
		return "", "", errors.New("object store not configured")
	}
	ext := strings.TrimPrefix(path.Ext(avatar.Name), ".")
	if ext == "" {
		ext = "bin"
	}
	avatarPath := fmt.Sprintf("avatars/%s-%d.%s", firstname, s.clock().UTC().UnixMilli(), ext)
	if err := s.objects.Upload(ctx, storage.BucketAvatars, avatarPath, avatar.Reader, true); err != nil {
		return "", "", err
	}
	return avatarPath, s.objects.PublicURL(storage.BucketAvatars, avatarPath), nil
}
