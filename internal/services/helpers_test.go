package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/userdirectory/internal/database/dbtest"
	"github.com/example/userdirectory/internal/models"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (f *fakeNotifier) SendWelcome(ctx context.Context, address, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, address)
	if f.fail[address] {
		return errors.New("smtp: mailbox unavailable")
	}
	return nil
}

func fastHash(password string) (string, error) {
	return "hashed:" + password, nil
}

func newTestService(t *testing.T) (*UserService, *gorm.DB, *fakeNotifier) {
	t.Helper()
	db := dbtest.New(t)
	notifier := &fakeNotifier{}
	return NewUserService(db, notifier, fastHash, 5*time.Second, zap.NewNop()), db, notifier
}

func strPtr(s string) *string { return &s }

func validInput(suffix string) CreateUserInput {
	return CreateUserInput{
		FirstName: "Test",
		LastName:  "User" + suffix,
		Phone:     "+380990000" + suffix,
		Email:     "user" + suffix + "@example.com",
		Password:  "password123",
	}
}

func mustCreate(t *testing.T, svc *UserService, in CreateUserInput) *models.User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), in)
	require.NoError(t, err)
	return user
}

func requireFieldErrors(t *testing.T, err error, fields ...string) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range fields {
		require.Truef(t, verr.Has(f), "expected error on %q, got %v", f, verr.Fields)
	}
	require.Lenf(t, verr.Fields, len(fields), "unexpected fields: %v", verr.Fields)
	return verr
}

func secondaryEmails(u *models.User) []string {
	out := make([]string, 0, len(u.Emails))
	for _, e := range u.Emails {
		out = append(out, e.Email)
	}
	return out
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
