package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/userdirectory/internal/database"
	"github.com/example/userdirectory/internal/models"
)

// Notifier delivers one welcome message to one address.
type Notifier interface {
	SendWelcome(ctx context.Context, address, displayName string) error
}

// PasswordHasher turns a plaintext password into its stored form.
type PasswordHasher func(password string) (string, error)

// NotificationResult reports a fan-out: every address attempted, and those that failed.
type NotificationResult struct {
	Addresses []string
	Failed    []string
}

// Sent is the number of addresses a message was dispatched to.
func (r *NotificationResult) Sent() int {
	return len(r.Addresses)
}

// UserService coordinates the user store and the secondary address set so a
// create, update or delete either fully happens or leaves no trace. Every
// mutation validates everything first and only then writes, all inside one
// transaction.
type UserService struct {
	db        *gorm.DB
	ledger    *AddressLedger
	users     *UserStore
	addresses *AddressSet
	notifier  Notifier
	hash      PasswordHasher
	txTimeout time.Duration
	log       *zap.Logger
}

// NewUserService wires the ledger, user store and address set around db.
func NewUserService(db *gorm.DB, notifier Notifier, hash PasswordHasher, txTimeout time.Duration, log *zap.Logger) *UserService {
	ledger := NewAddressLedger(db, log)
	return &UserService{
		db:        db,
		ledger:    ledger,
		users:     NewUserStore(db, ledger, log),
		addresses: NewAddressSet(db, ledger, log),
		notifier:  notifier,
		hash:      hash,
		txTimeout: txTimeout,
		log:       log.With(zap.String("component", "user_service")),
	}
}

func (s *UserService) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return normalizeError(database.WithTx(ctx, s.db, s.txTimeout, fn))
}

// ListUsers returns every user with its secondary addresses.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.users.ListAll(ctx, nil)
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}

// GetUser returns one user with its secondary addresses.
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.Get(ctx, nil, id)
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

// CreateUser registers a user together with its secondary addresses. Nothing is
// written unless every field and every address is acceptable.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	verr := validateCreateFormat(in)

	// Hashing is slow; do it outside the transaction, and only for a well-formed password.
	var passwordHash string
	if !verr.Has(FieldPassword) {
		hashed, err := s.hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hashed
	}

	var created *models.User
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if err := s.users.checkCreate(ctx, tx, in, verr); err != nil {
			return err
		}
		primary := in.Email
		if verr.Has(FieldEmail) {
			primary = ""
		}
		if err := s.addresses.check(ctx, tx, uuid.Nil, primary, in.Emails.Values(), verr); err != nil {
			return err
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		user, err := s.users.insert(ctx, tx, in, passwordHash)
		if err != nil {
			return err
		}
		if in.Emails.Present() && len(in.Emails.Values()) > 0 {
			if err := s.addresses.ReplaceAll(ctx, tx, user.ID, user.Email, in.Emails.Values()); err != nil {
				return err
			}
		}

		created, err = s.users.Get(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user created", zap.String("user_id", created.ID.String()), zap.Int("secondary_addresses", len(created.Emails)))
	return created, nil
}

// UpdateUser applies a partial update. A present Emails list, even an empty one,
// replaces the whole secondary set; an absent one leaves it alone.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, in UpdateUserInput) (*models.User, error) {
	var updated *models.User
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		user, err := s.users.Get(ctx, tx, id)
		if err != nil {
			return err
		}

		verr := validateUpdateFormat(in)
		if err := s.users.checkUpdate(ctx, tx, user, in, !in.Emails.Present(), verr); err != nil {
			return err
		}
		primary := user.Email
		if in.Email != nil {
			primary = *in.Email
		}
		if verr.Has(FieldEmail) {
			primary = user.Email
		}
		if in.Emails.Present() {
			if err := s.addresses.check(ctx, tx, user.ID, primary, in.Emails.Values(), verr); err != nil {
				return err
			}
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		// Release the old primary before the secondary set is rewritten so the two may swap.
		if err := s.users.releasePrimary(ctx, tx, user, in); err != nil {
			return err
		}
		if in.Emails.Present() {
			if err := s.addresses.ReplaceAll(ctx, tx, user.ID, primary, in.Emails.Values()); err != nil {
				return err
			}
		}
		if err := s.users.applyUpdate(ctx, tx, user, in); err != nil {
			return err
		}

		updated, err = s.users.Get(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user updated", zap.String("user_id", updated.ID.String()))
	return updated, nil
}

// DeleteUser removes the user and everything it owns: secondary addresses
// first, then the user row, in one transaction.
func (s *UserService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.users.Get(ctx, tx, id); err != nil {
			return err
		}
		if err := s.addresses.removeAll(ctx, tx, id); err != nil {
			return err
		}
		if err := s.ledger.ReleaseAll(ctx, tx, id); err != nil {
			return err
		}
		return s.users.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("user deleted", zap.String("user_id", id.String()))
	return nil
}

// CollectNotificationAddresses returns the user's primary address followed by
// its secondary addresses, exact duplicates removed, first occurrence kept.
func (s *UserService) CollectNotificationAddresses(ctx context.Context, id uuid.UUID) ([]string, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return notificationAddresses(user), nil
}

func notificationAddresses(user *models.User) []string {
	out := make([]string, 0, len(user.Emails)+1)
	seen := make(map[string]bool, len(user.Emails)+1)
	add := func(address string) {
		if seen[address] {
			return
		}
		seen[address] = true
		out = append(out, address)
	}

	add(user.Email)
	for _, e := range user.Emails {
		add(e.Email)
	}
	return out
}

// SendWelcome dispatches the welcome message to every address of the user, one
// at a time. A failed address does not stop the others; failures are reported
// in the result, not as an error.
func (s *UserService) SendWelcome(ctx context.Context, id uuid.UUID) (*NotificationResult, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &NotificationResult{Addresses: notificationAddresses(user), Failed: []string{}}
	for _, address := range result.Addresses {
		if err := s.notifier.SendWelcome(ctx, address, user.DisplayName); err != nil {
			s.log.Warn("welcome email failed",
				zap.String("user_id", user.ID.String()),
				zap.String("address", address),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, address)
		}
	}

	s.log.Info("welcome emails dispatched",
		zap.String("user_id", user.ID.String()),
		zap.Int("sent", result.Sent()),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// storeError marks transient failures of reads outside a transaction.
func storeError(err error) error {
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrTransient) {
		return err
	}
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// Ping checks that the store answers.
func (s *UserService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storeError(err)
	}
	return nil
}
