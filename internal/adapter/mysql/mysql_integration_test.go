package mysql

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
)

// integrationProfile reads DBRIDGE_TEST_MYSQL_DSN, a go-sql-driver DSN such
// as "root:pw@tcp(127.0.0.1:3306)/dbridge_test".
func integrationProfile(t *testing.T) profile.Profile {
	t.Helper()
	dsn := os.Getenv("DBRIDGE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping: DBRIDGE_TEST_MYSQL_DSN not set")
	}
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	return profile.Profile{
		Engine:   profile.EngineMySQL,
		Host:     host,
		Port:     port,
		User:     cfg.User,
		Password: cfg.Passwd,
		Database: cfg.DBName,
	}
}

func TestIntegration_SelectAndIntrospect(t *testing.T) {
	p := integrationProfile(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := (&mysqlAdapter{}).Connect(ctx, p)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping(ctx))

	_, err = conn.ExecuteStatement(ctx, "DROP TABLE IF EXISTS dbridge_items")
	require.NoError(t, err)
	_, err = conn.ExecuteStatement(ctx, "CREATE TABLE dbridge_items (id INT PRIMARY KEY, label VARCHAR(20) NULL, price DECIMAL(8,2))")
	require.NoError(t, err)
	t.Cleanup(func() { conn.ExecuteStatement(context.Background(), "DROP TABLE IF EXISTS dbridge_items") })

	_, err = conn.ExecuteStatement(ctx, "INSERT INTO dbridge_items VALUES (?, ?, ?)", 1, "one", "9.99")
	require.NoError(t, err)

	res, err := conn.ExecuteQuery(ctx, "SELECT id, label, price FROM dbridge_items")
	require.NoError(t, err)
	assert.Equal(t, adapter.Row{int64(1), "one", "9.99"}, res.Rows[0])

	tables, err := conn.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "dbridge_items")

	cols, err := conn.ListColumns(ctx, "dbridge_items")
	require.NoError(t, err)
	assert.True(t, cols[0].IsPK)

	grants, err := conn.ListPrivileges(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, grants)

	require.NoError(t, conn.DeselectDatabase(ctx))
	_, err = conn.ListTables(ctx)
	assert.ErrorIs(t, err, adapter.ErrNoDatabaseSelected)
}
