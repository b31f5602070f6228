package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/dbridge/internal/adapter"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
)

func expectPin(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT CONNECTION_ID()")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func expectSelect(mock sqlmock.Sqlmock, db string) {
	mock.ExpectQuery("FROM information_schema.SCHEMATA WHERE SCHEMA_NAME").
		WithArgs(db).
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow(db))
	mock.ExpectExec(regexp.QuoteMeta("USE `" + db + "`")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func newMockConn(t *testing.T) (*mysqlConn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expectPin(mock, 42)
	conn, err := newConn(context.Background(), db, "")
	require.NoError(t, err)
	return conn, mock
}

func TestMySQLAdapter_Registration(t *testing.T) {
	a, err := adapter.Lookup(profile.EngineMySQL)
	require.NoError(t, err)
	assert.Equal(t, profile.EngineMySQL, a.Engine())
	assert.Equal(t, 3306, a.DefaultPort())
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(profile.Profile{
		Engine:   profile.EngineMySQL,
		Host:     "db.local",
		User:     "app",
		Password: "s3cret",
		Database: "shop",
		SSLMode:  "require",
	})
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "s3cret", cfg.Passwd)
	assert.Equal(t, "db.local:3306", cfg.Addr)
	assert.Equal(t, "", cfg.DBName, "database is selected after connect")
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, profile.DefaultConnectTimeout, cfg.Timeout)
	assert.Equal(t, "skip-verify", cfg.TLSConfig)
}

func TestSelectScopesListTables(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()

	_, err := conn.ListTables(ctx)
	assert.ErrorIs(t, err, adapter.ErrNoDatabaseSelected)

	expectSelect(mock, "shop")
	require.NoError(t, conn.SelectDatabase(ctx, "shop"))

	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("shop", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("customers").AddRow("orders"))

	tables, err := conn.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectDatabase_NotFound(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery("FROM information_schema.SCHEMATA WHERE SCHEMA_NAME").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}))

	err := conn.SelectDatabase(context.Background(), "ghost")
	var nf *adapter.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)

	_, ok := conn.SelectedDatabase()
	assert.False(t, ok)
}

func TestDeselectDatabase(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()

	expectSelect(mock, "shop")
	require.NoError(t, conn.SelectDatabase(ctx, "shop"))

	expectPin(mock, 43)
	require.NoError(t, conn.DeselectDatabase(ctx))

	_, ok := conn.SelectedDatabase()
	assert.False(t, ok)
	assert.EqualValues(t, 43, conn.connID.Load())

	_, err := conn.ListTables(ctx)
	assert.ErrorIs(t, err, adapter.ErrNoDatabaseSelected)
	_, err = conn.ListColumns(ctx, "orders")
	assert.ErrorIs(t, err, adapter.ErrNoDatabaseSelected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListColumns(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()
	expectSelect(mock, "shop")
	require.NoError(t, conn.SelectDatabase(ctx, "shop"))

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "is_pk"}).
			AddRow("id", "int", "NO", nil, 1).
			AddRow("status", "varchar(16)", "YES", "new", 0))

	cols, err := conn.ListColumns(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{
		{Name: "id", Type: "int", IsPK: true},
		{Name: "status", Type: "varchar(16)", Nullable: true, Default: "new", HasDefault: true},
	}, cols)

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "is_pk"}))
	_, err = conn.ListColumns(ctx, "nope")
	var nf *adapter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListIndexes(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()
	expectSelect(mock, "shop")
	require.NoError(t, conn.SelectDatabase(ctx, "shop"))

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE"}).
			AddRow("PRIMARY", "id", 0).
			AddRow("idx_cust_date", "customer_id", 1).
			AddRow("idx_cust_date", "created_at", 1))

	idx, err := conn.ListIndexes(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []schema.Index{
		{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Primary: true},
		{Name: "idx_cust_date", Columns: []string{"customer_id", "created_at"}},
	}, idx)
}

func TestListPrivileges(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery("SELECT CONCAT").
		WillReturnRows(sqlmock.NewRows([]string{"grantee"}).AddRow("'app'@'%'"))
	mock.ExpectQuery("FROM information_schema.USER_PRIVILEGES").
		WithArgs("'app'@'%'").
		WillReturnRows(sqlmock.NewRows([]string{"PRIVILEGE_TYPE"}).AddRow("USAGE").AddRow("PROCESS"))
	mock.ExpectQuery("FROM information_schema.SCHEMA_PRIVILEGES").
		WithArgs("'app'@'%'").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_SCHEMA", "PRIVILEGE_TYPE"}).
			AddRow(`shop\_db`, "SELECT").
			AddRow(`shop\_db`, "INSERT"))
	mock.ExpectQuery("FROM information_schema.TABLE_PRIVILEGES").
		WithArgs("'app'@'%'").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_SCHEMA", "TABLE_NAME", "PRIVILEGE_TYPE"}).
			AddRow("audit", "events", "UPDATE"))

	grants, err := conn.ListPrivileges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []schema.Grant{
		{Scope: schema.ScopeDatabase, Database: "shop_db", Operation: schema.OpSelect},
		{Scope: schema.ScopeDatabase, Database: "shop_db", Operation: schema.OpInsert},
		{Scope: schema.ScopeTable, Database: "audit", Table: "events", Operation: schema.OpUpdate},
	}, grants)
}

func TestListPrivileges_Denied(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery("SELECT CONCAT").
		WillReturnError(&mysql.MySQLError{Number: 1142, Message: "SELECT command denied"})

	_, err := conn.ListPrivileges(context.Background())
	var qe *adapter.QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestExecuteQuery_NormalizesTextProtocol(t *testing.T) {
	conn, mock := newMockConn(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("price").OfType("DECIMAL", ""),
		sqlmock.NewColumn("ratio").OfType("DOUBLE", 0.0),
		sqlmock.NewColumn("photo").OfType("BLOB", []byte{}),
		sqlmock.NewColumn("note").OfType("VARCHAR", "").Nullable(true),
	).AddRow([]byte("7"), []byte("12.50"), []byte("0.25"), []byte{0xff}, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM items")).WillReturnRows(rows)

	res, err := conn.ExecuteQuery(context.Background(), "SELECT * FROM items")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, adapter.Row{int64(7), "12.50", 0.25, []byte{0xff}, nil}, res.Rows[0])
	assert.Equal(t, "DECIMAL", res.Columns[1].Type)
}

func TestExecuteStatement_Errors(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()

	mock.ExpectExec("INSRT").WillReturnError(&mysql.MySQLError{Number: errParse, Message: "You have an error in your SQL syntax"})
	_, err := conn.ExecuteStatement(ctx, "INSRT INTO t VALUES (1)")
	var qe *adapter.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, adapter.QuerySyntax, qe.Kind)

	mock.ExpectExec("UPDATE big").WillReturnError(&mysql.MySQLError{Number: errQueryInterrupted, Message: "Query execution was interrupted"})
	_, err = conn.ExecuteStatement(ctx, "UPDATE big SET x = 1")
	assert.ErrorIs(t, err, adapter.ErrCancelled)

	mock.ExpectExec("SELECT SLEEP").WillReturnError(&mysql.MySQLError{Number: errMaxExecutionTime, Message: "maximum statement execution time exceeded"})
	_, err = conn.ExecuteStatement(ctx, "SELECT SLEEP(10)")
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, adapter.QueryTimeout, qe.Kind)

	mock.ExpectExec("DELETE").WillReturnError(mysql.ErrInvalidConn)
	_, err = conn.ExecuteStatement(ctx, "DELETE FROM t")
	assert.True(t, adapter.IsFatal(err))
}

func TestExecuteQuery_UseTracksSelection(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectExec(regexp.QuoteMeta("USE archive")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATABASE()")).
		WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow("archive"))

	_, err := conn.ExecuteQuery(context.Background(), "USE archive")
	require.NoError(t, err)
	db, ok := conn.SelectedDatabase()
	assert.True(t, ok)
	assert.Equal(t, "archive", db)
}

func TestTableDDL(t *testing.T) {
	conn, mock := newMockConn(t)
	ctx := context.Background()
	expectSelect(mock, "shop")
	require.NoError(t, conn.SelectDatabase(ctx, "shop"))

	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("orders", "CREATE TABLE `orders` (`id` int)"))
	ddl, err := conn.TableDDL(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE `orders` (`id` int)"}, ddl)

	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `gone`")).
		WillReturnError(&mysql.MySQLError{Number: errNoSuchTable, Message: "Table 'shop.gone' doesn't exist"})
	_, err = conn.TableDDL(ctx, "gone")
	var nf *adapter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCancel_Idle(t *testing.T) {
	conn, mock := newMockConn(t)
	assert.NoError(t, conn.Cancel())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifier_Connect(t *testing.T) {
	err := classifier.Connect(&mysql.MySQLError{Number: errAccessDenied, Message: "Access denied"})
	var ce *adapter.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, adapter.ConnAuth, ce.Kind)

	assert.False(t, isErrNumber(errors.New("plain"), errParse))
}

func TestHelpers(t *testing.T) {
	assert.True(t, isUseStatement("  use shop"))
	assert.True(t, isUseStatement("USE`shop`"))
	assert.False(t, isUseStatement("USER_PRIVILEGES"))
	assert.Equal(t, "shop_db%", unescapeSchema(`shop\_db\%`))
}
