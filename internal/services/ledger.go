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

// ErrAddressTaken is returned by Claim when another row already holds the address.
var ErrAddressTaken = errors.New("address already taken")

// AddressLedger is the single index of every primary and secondary address in
// the system. Lookups are a fast path; the primary key on the ledger table is
// what actually rejects a duplicate when two writers race.
type AddressLedger struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAddressLedger constructs an AddressLedger.
func NewAddressLedger(db *gorm.DB, log *zap.Logger) *AddressLedger {
	return &AddressLedger{db: db, log: log.With(zap.String("component", "address_ledger"))}
}

func (l *AddressLedger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		// tx already carries the transaction's deadline.
		return tx
	}
	return l.db.WithContext(ctx)
}

// Owner returns the ledger row holding address, or nil when it is free.
func (l *AddressLedger) Owner(ctx context.Context, tx *gorm.DB, address string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := l.conn(ctx, tx).Where("address = ?", address).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	return &entry, nil
}

// IsTaken reports whether address is held by any user other than excluding.
// Pass uuid.Nil to check against everyone.
func (l *AddressLedger) IsTaken(ctx context.Context, tx *gorm.DB, address string, excluding uuid.UUID) (bool, error) {
	query := l.conn(ctx, tx).Model(&models.LedgerEntry{}).Where("address = ?", address)
	if excluding != uuid.Nil {
		query = query.Where("user_id <> ?", excluding)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return count > 0, nil
}

// Claim records address as held by userID in slot. A duplicate yields ErrAddressTaken.
func (l *AddressLedger) Claim(ctx context.Context, tx *gorm.DB, userID uuid.UUID, address, slot string) error {
	entry := models.LedgerEntry{Address: address, UserID: userID, Slot: slot}
	if err := l.conn(ctx, tx).Create(&entry).Error; err != nil {
		if database.IsDuplicateKey(err) {
			l.log.Debug("address claim rejected", zap.String("address", address), zap.String("user_id", userID.String()))
			return fmt.Errorf("%w: %v", ErrAddressTaken, err)
		}
		return fmt.Errorf("ledger claim: %w", err)
	}
	return nil
}

// Release frees every address userID holds in slot.
func (l *AddressLedger) Release(ctx context.Context, tx *gorm.DB, userID uuid.UUID, slot string) error {
	err := l.conn(ctx, tx).
		Where("user_id = ? AND slot = ?", userID, slot).
		Delete(&models.LedgerEntry{}).Error
	if err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

// ReleaseAll frees every address userID holds.
func (l *AddressLedger) ReleaseAll(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if err := l.conn(ctx, tx).Where("user_id = ?", userID).Delete(&models.LedgerEntry{}).Error; err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}
