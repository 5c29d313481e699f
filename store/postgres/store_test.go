package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/authcore"
)

var accountColumns = []string{
	"uid", "roll_no", "name", "email", "batch", "password_hash", "session_token", "created_at",
}

func testAccount() authcore.Account {
	return authcore.Account{
		UID:          "alice01",
		RollNo:       "21CS001",
		Name:         "Alice Example",
		Email:        "alice@example.com",
		Batch:        "2025",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		SessionToken: "tok-1",
		CreatedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func accountRow(a authcore.Account) *pgxmock.Rows {
	return pgxmock.NewRows(accountColumns).AddRow(
		a.UID, a.RollNo, a.Name, a.Email, a.Batch, a.PasswordHash, a.SessionToken, a.CreatedAt,
	)
}

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface, a authcore.Account)
		wantErr   error
	}{
		{
			name: "success",
			setupMock: func(mock pgxmock.PgxPoolIface, a authcore.Account) {
				mock.ExpectQuery(`insert into accounts`).
					WithArgs(a.UID, a.RollNo, a.Name, a.Email, a.Batch, a.PasswordHash, a.SessionToken, a.CreatedAt).
					WillReturnRows(accountRow(a))
			},
		},
		{
			name: "uniqueness conflict",
			setupMock: func(mock pgxmock.PgxPoolIface, a authcore.Account) {
				mock.ExpectQuery(`insert into accounts`).
					WithArgs(a.UID, a.RollNo, a.Name, a.Email, a.Batch, a.PasswordHash, a.SessionToken, a.CreatedAt).
					WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			wantErr: authcore.ErrDuplicateAccount,
		},
		{
			name: "transport failure",
			setupMock: func(mock pgxmock.PgxPoolIface, a authcore.Account) {
				mock.ExpectQuery(`insert into accounts`).
					WithArgs(a.UID, a.RollNo, a.Name, a.Email, a.Batch, a.PasswordHash, a.SessionToken, a.CreatedAt).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			a := testAccount()
			tt.setupMock(mock, a)

			store := NewStoreWithPool(mock)
			got, err := store.CreateAccount(context.Background(), a)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, a, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := testAccount()
	mock.ExpectQuery(`select uid, roll_no`).
		WithArgs(a.Email).
		WillReturnRows(accountRow(a))

	store := NewStoreWithPool(mock)
	got, err := store.FindByEmail(context.Background(), a.Email)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`select uid, roll_no`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	store := NewStoreWithPool(mock)
	_, err = store.FindByUID(context.Background(), "ghost")
	require.ErrorIs(t, err, authcore.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionToken(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`update accounts`).
					WithArgs("alice01", "tok-2").
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "clear on logout",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`update accounts`).
					WithArgs("alice01", "").
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "unknown uid",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`update accounts`).
					WithArgs("alice01", "tok-2").
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
			wantErr: authcore.ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setupMock(mock)

			token := "tok-2"
			if tt.name == "clear on logout" {
				token = ""
			}

			store := NewStoreWithPool(mock)
			err = store.UpdateSessionToken(context.Background(), "alice01", token)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`update accounts`).
		WithArgs("alice01", "$argon2id$new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewStoreWithPool(mock)
	require.NoError(t, store.UpdatePasswordHash(context.Background(), "alice01", "$argon2id$new"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`create table if not exists accounts`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store := NewStoreWithPool(mock)
	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
