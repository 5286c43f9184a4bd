package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewGorm_SqliteAndMigrate(t *testing.T) {
	db, err := NewGorm(Opts{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "t.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(db))
	require.NoError(t, Ping(context.Background(), db))
	assert.True(t, db.Migrator().HasTable("users"))
}

func TestNewGorm_UnsupportedDriver(t *testing.T) {
	_, err := NewGorm(Opts{Driver: "oracle"})
	assert.True(t, errors.Is(err, gorm.ErrInvalidDB))
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("u:p@tcp(db:3306)/app", "", "")
	require.NoError(t, err)
	cfg, err := mysqldrv.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.User)
	assert.Equal(t, "p", cfg.Passwd)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.True(t, cfg.ParseTime)
	assert.Contains(t, dsn, "charset=utf8mb4")

	dsn, err = mysqlDSN("jdbc:mysql://db:3306/app?useUnicode=true&characterEncoding=utf8&useSSL=true&serverTimezone=Asia%2FShanghai", "root", "pw")
	require.NoError(t, err)
	cfg, err = mysqldrv.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "pw", cfg.Passwd)
	assert.Equal(t, "app", cfg.DBName)
	assert.Contains(t, dsn, "charset=utf8")
	assert.Equal(t, "true", cfg.TLSConfig)
	assert.Equal(t, "Asia/Shanghai", cfg.Loc.String())
	assert.NotContains(t, dsn, "useUnicode")

	_, err = mysqlDSN("  ", "", "")
	require.Error(t, err)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "root:****@tcp(db:3306)/app", maskDSN("root:secret@tcp(db:3306)/app"))
	assert.Equal(t, "app.db", maskDSN("app.db"))
}
