package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/userdirectory/internal/models"
)

// AddressSet owns the secondary addresses of each user. Updates replace the
// whole set: the old rows are deleted and the new list inserted, never merged.
type AddressSet struct {
	db     *gorm.DB
	ledger *AddressLedger
	log    *zap.Logger
}

// NewAddressSet constructs an AddressSet.
func NewAddressSet(db *gorm.DB, ledger *AddressLedger, log *zap.Logger) *AddressSet {
	return &AddressSet{db: db, ledger: ledger, log: log.With(zap.String("component", "address_set"))}
}

func (a *AddressSet) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		// tx already carries the transaction's deadline.
		return tx
	}
	return a.db.WithContext(ctx)
}

// check adds violations of addresses to verr, keyed by list index. owner is the
// user whose set is being replaced (uuid.Nil on create): that user's current
// claims are ignored because they are about to be discarded. primary is the
// primary address the user will hold once the operation completes.
func (a *AddressSet) check(ctx context.Context, tx *gorm.DB, owner uuid.UUID, primary string, addresses []string, verr *ValidationError) error {
	seen := make(map[string]bool, len(addresses))
	for i, address := range addresses {
		field := AddressField(i)
		if verr.Has(field) {
			continue
		}
		if seen[address] || (primary != "" && address == primary) {
			verr.Add(field, duplicateMessage(field))
			continue
		}
		seen[address] = true

		var (
			taken bool
			err   error
		)
		if owner == uuid.Nil {
			taken, err = a.ledger.IsTaken(ctx, tx, address, uuid.Nil)
		} else {
			taken, err = a.otherOwner(ctx, tx, owner, address)
		}
		if err != nil {
			return err
		}
		if taken {
			verr.Add(field, takenMessage(field))
		}
	}
	return nil
}

// otherOwner reports whether address is held by a user other than owner. A clash
// with owner's own primary is caught by the primary comparison in check.
func (a *AddressSet) otherOwner(ctx context.Context, tx *gorm.DB, owner uuid.UUID, address string) (bool, error) {
	entry, err := a.ledger.Owner(ctx, tx, address)
	if err != nil || entry == nil {
		return false, err
	}
	return entry.UserID != owner, nil
}

// ReplaceAll validates addresses and then swaps the user's whole secondary set
// for them. It must run inside the caller's transaction so a partial replace is
// never visible. primary is the user's primary address after the operation.
func (a *AddressSet) ReplaceAll(ctx context.Context, tx *gorm.DB, userID uuid.UUID, primary string, addresses []string) error {
	verr := NewValidationError()
	validateAddressFormat(verr, Addresses(addresses...))
	if err := a.check(ctx, tx, userID, primary, addresses, verr); err != nil {
		return err
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if err := a.removeAll(ctx, tx, userID); err != nil {
		return err
	}
	return a.insert(ctx, tx, userID, addresses)
}

func (a *AddressSet) insert(ctx context.Context, tx *gorm.DB, userID uuid.UUID, addresses []string) error {
	for i, address := range addresses {
		if err := a.ledger.Claim(ctx, tx, userID, address, models.SlotSecondary); err != nil {
			return conflictOn(AddressField(i), address, err)
		}
		row := models.UserEmail{UserID: userID, Email: address, Position: i}
		if err := a.conn(ctx, tx).Create(&row).Error; err != nil {
			return fmt.Errorf("create secondary address: %w", err)
		}
	}
	if len(addresses) > 0 {
		a.log.Debug("secondary addresses stored", zap.String("user_id", userID.String()), zap.Int("count", len(addresses)))
	}
	return nil
}

// removeAll deletes every secondary address of userID along with its ledger claims.
func (a *AddressSet) removeAll(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if err := a.conn(ctx, tx).Where("user_id = ?", userID).Delete(&models.UserEmail{}).Error; err != nil {
		return fmt.Errorf("delete secondary addresses: %w", err)
	}
	return a.ledger.Release(ctx, tx, userID, models.SlotSecondary)
}
