package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSQLAdapter_Close(t *testing.T) {
	tests := []struct {
		name      string
		setupDB   bool
		expectErr bool
	}{
		{
			name:      "close with nil DB",
			setupDB:   false,
			expectErr: false,
		},
		{
			name:      "close with open DB",
			setupDB:   true,
			expectErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBase(nil)

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				mock.ExpectClose()
				base.DB = db
			}

			err := base.Close()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, base.IsConnected())
		})
	}
}

func TestBaseSQLAdapter_CloseKeepsHandle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	base := NewBase(nil)
	base.DB = db
	require.NoError(t, base.Close())
	require.NoError(t, base.Close())
	assert.Same(t, db, base.DB)

	_, err = base.QueryPage(context.Background(), 10, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = base.QueryCount(context.Background(), "SELECT COUNT(*) FROM t")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_Ping(t *testing.T) {
	base := NewBase(nil)
	assert.ErrorIs(t, base.Ping(context.Background()), ErrNotConnected)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	mock.ExpectPing()

	base.DB = db
	require.NoError(t, base.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_QueryPage(t *testing.T) {
	tests := []struct {
		name          string
		setupDB       bool
		setupMock     func(mock sqlmock.Sqlmock)
		limit         int
		expectErr     bool
		wantRows      int
		wantTruncated bool
	}{
		{
			name:      "query without connection",
			setupDB:   false,
			limit:     10,
			expectErr: true,
		},
		{
			name:    "query returning rows",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "name"}).
					AddRow(1, []byte("alice")).
					AddRow(2, []byte("bob"))
				mock.ExpectQuery("SELECT \\* FROM users").WillReturnRows(rows)
			},
			limit:    10,
			wantRows: 2,
		},
		{
			name:    "query hitting the cap",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3)
				mock.ExpectQuery("SELECT \\* FROM users").WillReturnRows(rows)
			},
			limit:         2,
			wantRows:      2,
			wantTruncated: true,
		},
		{
			name:    "query error",
			setupDB: true,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT \\* FROM users").WillReturnError(assert.AnError)
			},
			limit:     10,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBase(nil)

			if tt.setupDB {
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()
				if tt.setupMock != nil {
					tt.setupMock(mock)
				}
				base.DB = db
			}

			res, err := base.QueryPage(context.Background(), tt.limit, "SELECT * FROM users")
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, res.RowsReturned)
			assert.Len(t, res.Rows, tt.wantRows)
			assert.Equal(t, tt.wantTruncated, res.Truncated)
		})
	}
}

func TestBaseSQLAdapter_QueryPage_NormalizesBytes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("alice")))

	base := NewBase(nil)
	base.DB = db
	res, err := base.QueryPage(context.Background(), 0, "SELECT name FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, res.Columns)
	assert.Equal(t, "alice", res.Rows[0][0])
}

func TestBaseSQLAdapter_ExecuteRaw(t *testing.T) {
	t.Run("empty text rejected before reaching the engine", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		base := NewBase(nil)
		base.DB = db
		_, err = base.ExecuteRaw(context.Background(), "   ")
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("statement without result set", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("UPDATE users").WillReturnRows(sqlmock.NewRows(nil))

		base := NewBase(nil)
		base.DB = db
		res, err := base.ExecuteRaw(context.Background(), "UPDATE users SET name = 'x'")
		require.NoError(t, err)
		assert.Empty(t, res.Columns)
		assert.Equal(t, 0, res.RowsReturned)
	})

	t.Run("cap from settings", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3))

		base := NewBase(nil)
		base.DB = db
		base.Configure(Settings{MaxRawRows: 1})
		res, err := base.ExecuteRaw(context.Background(), "SELECT n FROM t")
		require.NoError(t, err)
		assert.Equal(t, 1, res.RowsReturned)
		assert.True(t, res.Truncated)
	})
}

func TestBaseSQLAdapter_QueryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	base := NewBase(nil)
	base.DB = db
	n, err := base.QueryCount(context.Background(), "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
