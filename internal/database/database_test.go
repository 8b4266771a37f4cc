package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/steam-billing-api/internal/database/migrations"
	"github.com/ksred/steam-billing-api/internal/transaction"
	"github.com/ksred/steam-billing-api/internal/types"
)

func TestNewDatabase_SQLiteMigrates(t *testing.T) {
	db, err := NewDatabase(Config{Driver: DriverSQLite, DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.True(t, db.Migrator().HasTable(&transaction.Transaction{}))
	assert.True(t, db.Migrator().HasIndex(&transaction.Transaction{}, "idx_transactions_order_trans"))
	assert.True(t, db.Migrator().HasIndex(&transaction.Transaction{}, "idx_transactions_status"))

	// rerunning migrations is a no-op
	require.NoError(t, migrations.CreateTransactions(db))

	store := transaction.NewDatabase(db)
	require.NoError(t, store.Upsert(context.Background(), &transaction.Transaction{
		OrderID: "A1", TransID: "T1", Status: types.StatusApproved, TimeUpdated: time.Now(),
	}))
}

func TestDialector(t *testing.T) {
	d, err := dialector(Config{Driver: "MySQL", DSN: "user:pass@tcp(localhost:3306)/billing"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = dialector(Config{Driver: "postgres", DSN: "host=localhost"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = dialector(Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = dialector(Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewDynamoClient(t *testing.T) {
	client, err := NewDynamoClient(context.Background(), DynamoConfig{
		Region:          "eu-west-1",
		Endpoint:        "http://localhost:8000",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", client.Options().Region)
	require.NotNil(t, client.Options().BaseEndpoint)
	assert.Equal(t, "http://localhost:8000", *client.Options().BaseEndpoint)
}
