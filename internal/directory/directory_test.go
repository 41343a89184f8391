package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

func TestLookupStaff(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("FROM staff").
		WithArgs("tenant-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow("st-1", "Maria"))

	sender, err := repo.LookupStaff(context.Background(), "tenant-1", "+15552220000")
	require.NoError(t, err)
	require.NotNil(t, sender)
	require.Equal(t, conversation.RoleStaff, sender.Role)
	require.Equal(t, "st-1", sender.DirectoryID)
	require.Equal(t, "Maria", sender.DisplayName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupUnknownAddress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("FROM customers").
		WithArgs("tenant-1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	sender, err := repo.LookupCustomer(context.Background(), "tenant-1", "15559999999")
	require.NoError(t, err)
	require.Nil(t, sender)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupCustomerDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("FROM customers").
		WithArgs("tenant-1", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err = repo.LookupCustomer(context.Background(), "tenant-1", "15550001111")
	require.Error(t, err)
	require.ErrorIs(t, err, conversation.ErrDirectoryUnavailable)
}

func TestGetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("SELECT loyalty_points, loyalty_tier").
		WithArgs("tenant-1", "cu-1").
		WillReturnRows(sqlmock.NewRows([]string{"loyalty_points", "loyalty_tier"}).AddRow(420, "gold"))
	mock.ExpectQuery("SELECT loyalty_points, loyalty_tier").
		WithArgs("tenant-1", "cu-2").
		WillReturnError(sql.ErrNoRows)

	balance, err := repo.GetBalance(context.Background(), "tenant-1", "cu-1")
	require.NoError(t, err)
	require.Equal(t, 420, balance.Points)
	require.Equal(t, "gold", balance.Tier)

	_, err = repo.GetBalance(context.Background(), "tenant-1", "cu-2")
	require.ErrorIs(t, err, conversation.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddressVariants(t *testing.T) {
	require.Equal(t, []string{"15550001111", "+15550001111"}, addressVariants("+15550001111"))
	require.Equal(t, []string{"15550001111", "+15550001111"}, addressVariants(" 15550001111 "))
	require.Equal(t, []string{"web:abc"}, addressVariants("web:abc"))
	require.Nil(t, addressVariants(""))
}
