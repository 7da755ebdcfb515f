// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での修復が必要な状態を表す。
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaVersion は適用済みマイグレーションの状態。
type SchemaVersion struct {
	Version uint // 0は未適用
	Dirty   bool
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// 接続URLのドライバに対応するマイグレーションディレクトリを使用する。
// SQLiteはidentity_recordsのみを持ち、sessionsテーブルは作成しない。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+Driver(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// すでに最新の場合はエラーなしで現在のバージョンを返す。
// dirty状態のスキーマには適用せず、ErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return SchemaVersion{}, err
	}
	if before.Dirty {
		return before, fmt.Errorf("%w at version %d: fix the schema and force the version before migrating", ErrDirtySchema, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	return currentVersion(m)
}

// currentVersion は適用済みのバージョンを返す。未適用の場合はVersion 0を返す。
func currentVersion(m *migrate.Migrate) (SchemaVersion, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaVersion{Version: version, Dirty: dirty}, nil
}
