package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/userdirectory/internal/database"
	"github.com/example/userdirectory/internal/models"
)

// UserStore owns the canonical identity fields of a user and their lifecycle.
// Every method takes an optional transaction; nil runs against the pool.
type UserStore struct {
	db     *gorm.DB
	ledger *AddressLedger
	log    *zap.Logger
}

// NewUserStore constructs a UserStore.
func NewUserStore(db *gorm.DB, ledger *AddressLedger, log *zap.Logger) *UserStore {
	return &UserStore{db: db, ledger: ledger, log: log.With(zap.String("component", "user_store"))}
}

func (s *UserStore) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		// tx already carries the transaction's deadline.
		return tx
	}
	return s.db.WithContext(ctx)
}

func withEmails(db *gorm.DB) *gorm.DB {
	return db.Preload("Emails", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// Get loads a user with its secondary addresses.
func (s *UserStore) Get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := withEmails(s.conn(ctx, tx)).Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// ListAll returns every user with its secondary addresses, oldest first.
func (s *UserStore) ListAll(ctx context.Context, tx *gorm.DB) ([]models.User, error) {
	users := []models.User{}
	if err := withEmails(s.conn(ctx, tx)).Order("created_at ASC, id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// PhoneTaken reports whether phone belongs to a user other than excluding.
func (s *UserStore) PhoneTaken(ctx context.Context, tx *gorm.DB, phone string, excluding uuid.UUID) (bool, error) {
	query := s.conn(ctx, tx).Model(&models.User{}).Where("phone = ?", phone)
	if excluding != uuid.Nil {
		query = query.Where("id <> ?", excluding)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("phone lookup: %w", err)
	}
	return count > 0, nil
}

// checkCreate adds uniqueness violations of a registration to verr. Fields that
// already failed format checks are skipped.
func (s *UserStore) checkCreate(ctx context.Context, tx *gorm.DB, in CreateUserInput, verr *ValidationError) error {
	if !verr.Has(FieldPhone) {
		taken, err := s.PhoneTaken(ctx, tx, in.Phone, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			verr.Add(FieldPhone, takenMessage(FieldPhone))
		}
	}
	if !verr.Has(FieldEmail) {
		taken, err := s.ledger.IsTaken(ctx, tx, in.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			verr.Add(FieldEmail, takenMessage(FieldEmail))
		}
	}
	return nil
}

// checkUpdate adds uniqueness violations of a partial update to verr. The
// user's own current values are exempt. When keepsSecondary is true the new
// primary must also not collide with the user's own retained secondary addresses.
func (s *UserStore) checkUpdate(ctx context.Context, tx *gorm.DB, user *models.User, in UpdateUserInput, keepsSecondary bool, verr *ValidationError) error {
	if in.Phone != nil && !verr.Has(FieldPhone) && *in.Phone != user.Phone {
		taken, err := s.PhoneTaken(ctx, tx, *in.Phone, user.ID)
		if err != nil {
			return err
		}
		if taken {
			verr.Add(FieldPhone, takenMessage(FieldPhone))
		}
	}
	if in.Email != nil && !verr.Has(FieldEmail) && *in.Email != user.Email {
		owner, err := s.ledger.Owner(ctx, tx, *in.Email)
		if err != nil {
			return err
		}
		switch {
		case owner == nil:
		case owner.UserID != user.ID:
			verr.Add(FieldEmail, takenMessage(FieldEmail))
		case owner.Slot == models.SlotSecondary && keepsSecondary:
			verr.Add(FieldEmail, takenMessage(FieldEmail))
		}
	}
	return nil
}

// insert claims the primary address and writes the user row. It assumes
// validation already ran; a lost race surfaces as ConflictError.
func (s *UserStore) insert(ctx context.Context, tx *gorm.DB, in CreateUserInput, passwordHash string) (*models.User, error) {
	user := &models.User{
		BaseModel:    models.BaseModel{ID: uuid.New()},
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		DisplayName:  models.ComposeDisplayName(in.FirstName, in.LastName),
		Phone:        in.Phone,
		Email:        in.Email,
		PasswordHash: passwordHash,
		Emails:       []models.UserEmail{},
	}

	if err := s.ledger.Claim(ctx, tx, user.ID, user.Email, models.SlotPrimary); err != nil {
		return nil, conflictOn(FieldEmail, user.Email, err)
	}
	if err := s.conn(ctx, tx).Omit("Emails").Create(user).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return nil, &ConflictError{Field: FieldPhone, Value: user.Phone, Err: err}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Debug("user row stored", zap.String("user_id", user.ID.String()))
	return user, nil
}

// applyUpdate writes the supplied identity fields of user. A changed primary
// address moves the user's primary ledger claim.
func (s *UserStore) applyUpdate(ctx context.Context, tx *gorm.DB, user *models.User, in UpdateUserInput) error {
	updates := map[string]interface{}{}
	if in.FirstName != nil {
		user.FirstName = *in.FirstName
		updates["first_name"] = user.FirstName
	}
	if in.LastName != nil {
		user.LastName = *in.LastName
		updates["last_name"] = user.LastName
	}
	if in.FirstName != nil || in.LastName != nil {
		user.DisplayName = models.ComposeDisplayName(user.FirstName, user.LastName)
		updates["display_name"] = user.DisplayName
	}
	if in.Phone != nil && *in.Phone != user.Phone {
		user.Phone = *in.Phone
		updates["phone"] = user.Phone
	}
	if in.Email != nil && *in.Email != user.Email {
		if err := s.ledger.Claim(ctx, tx, user.ID, *in.Email, models.SlotPrimary); err != nil {
			return conflictOn(FieldEmail, *in.Email, err)
		}
		user.Email = *in.Email
		updates["email"] = user.Email
	}
	if len(updates) == 0 {
		return nil
	}

	err := s.conn(ctx, tx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error
	if err != nil {
		if database.IsDuplicateKey(err) {
			return &ConflictError{Field: FieldPhone, Value: user.Phone, Err: err}
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// releasePrimary drops the user's current primary claim ahead of a change of
// primary address, so the old value can be reused within the same transaction.
func (s *UserStore) releasePrimary(ctx context.Context, tx *gorm.DB, user *models.User, in UpdateUserInput) error {
	if in.Email == nil || *in.Email == user.Email {
		return nil
	}
	return s.ledger.Release(ctx, tx, user.ID, models.SlotPrimary)
}

// Delete removes the user row and its primary claim. Secondary addresses are
// the AddressSet's to remove first.
func (s *UserStore) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if err := s.ledger.Release(ctx, tx, id, models.SlotPrimary); err != nil {
		return err
	}
	res := s.conn(ctx, tx).Where("id = ?", id).Delete(&models.User{})
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func conflictOn(field, value string, err error) error {
	if errors.Is(err, ErrAddressTaken) {
		return &ConflictError{Field: field, Value: value, Err: err}
	}
	return err
}
