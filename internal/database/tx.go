package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// WithTx begins a transaction bounded by timeout, runs fn with the transactional
// handle, and then commits on success or rolls back on error/panic. Panics are rethrown.
//
// fn must issue its statements through tx, which carries the deadline. Failing
// to begin or commit, any transient failure returned by fn, and any failure after
// the deadline expired come back wrapped in ErrTransient. Other errors from fn
// are returned unchanged.
//
//	err := database.WithTx(ctx, db, 5*time.Second, func(tx *gorm.DB) error {
//	    return tx.Create(&user).Error
//	})
func WithTx(ctx context.Context, db *gorm.DB, timeout time.Duration, fn func(tx *gorm.DB) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransient, tx.Error)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			// Once the deadline passes database/sql rolls the transaction back and
			// later statements fail with sql.ErrTxDone.
			if !errors.Is(err, ErrTransient) && (IsTransient(err) || ctx.Err() != nil) {
				err = fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return
		}
		if cerr := tx.Commit().Error; cerr != nil {
			err = fmt.Errorf("%w: commit: %v", ErrTransient, cerr)
		}
	}()

	err = fn(tx)
	return err
}
