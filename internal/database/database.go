package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/models"
)

// DB представляет соединение с базой данных
type DB struct {
	*sqlx.DB
}

// New создает новое соединение с базой данных
func New(cfg *config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// Проверка соединения
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// InitTables создает таблицы в базе данных, если они не существуют
func (db *DB) InitTables() error {
	// Создаем таблицу для панелей
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS panels (
		id BIGSERIAL PRIMARY KEY,
		telegram_user_id BIGINT NOT NULL,
		panel_url TEXT NOT NULL,
		access_token TEXT NOT NULL,
		panel_type TEXT NOT NULL DEFAULT 'marzneshin',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create panels table: %w", err)
	}

	// Создаем таблицу для учетных данных подписок
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS app_users (
		id BIGSERIAL PRIMARY KEY,
		telegram_user_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		app_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (telegram_user_id, username)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create app_users table: %w", err)
	}

	// Создаем таблицу для локальных аккаунтов
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS local_users (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		plan_limit_bytes BIGINT NOT NULL DEFAULT 0,
		used_bytes BIGINT NOT NULL DEFAULT 0,
		expire_at TIMESTAMPTZ,
		note TEXT NOT NULL DEFAULT '',
		disabled_pushed BOOLEAN NOT NULL DEFAULT FALSE,
		disabled_pushed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_id, username)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create local_users table: %w", err)
	}

	// Создаем таблицу для привязок локальных аккаунтов к панелям
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS local_user_panel_links (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		local_username TEXT NOT NULL,
		panel_id BIGINT NOT NULL REFERENCES panels(id) ON DELETE CASCADE,
		remote_username TEXT NOT NULL,
		last_used_traffic BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_id, local_username, panel_id)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create local_user_panel_links table: %w", err)
	}

	// Создаем таблицу для агентов
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS agents (
		id BIGSERIAL PRIMARY KEY,
		telegram_user_id BIGINT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		plan_limit_bytes BIGINT NOT NULL DEFAULT 0,
		expire_at TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		user_limit BIGINT NOT NULL DEFAULT 0,
		max_user_bytes BIGINT NOT NULL DEFAULT 0,
		total_used_bytes BIGINT NOT NULL DEFAULT 0,
		disabled_pushed BOOLEAN NOT NULL DEFAULT FALSE,
		disabled_pushed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create agents table: %w", err)
	}

	// Создаем таблицу для панелей, назначенных агентам
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS agent_panels (
		id BIGSERIAL PRIMARY KEY,
		agent_tg_id BIGINT NOT NULL,
		panel_id BIGINT NOT NULL REFERENCES panels(id) ON DELETE CASCADE,
		UNIQUE (agent_tg_id, panel_id)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create agent_panels table: %w", err)
	}

	// Создаем таблицы для фильтров конфигураций
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS panel_disabled_configs (
		id BIGSERIAL PRIMARY KEY,
		panel_id BIGINT NOT NULL REFERENCES panels(id) ON DELETE CASCADE,
		config_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (panel_id, config_name)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create panel_disabled_configs table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS panel_disabled_numbers (
		id BIGSERIAL PRIMARY KEY,
		panel_id BIGINT NOT NULL REFERENCES panels(id) ON DELETE CASCADE,
		config_index INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (panel_id, config_index)
	)
	`)

	if err != nil {
		return fmt.Errorf("failed to create panel_disabled_numbers table: %w", err)
	}

	log.Println("All database tables initialized successfully")
	return nil
}

// GetPanelByID возвращает панель по ID
func (db *DB) GetPanelByID(id int64) (*models.Panel, error) {
	var panel models.Panel
	err := db.Get(&panel, "SELECT * FROM panels WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get panel by id: %w", err)
	}
	return &panel, nil
}

// ListOwnerPanels возвращает все панели владельца
func (db *DB) ListOwnerPanels(ownerID int64) ([]models.Panel, error) {
	var panels []models.Panel
	err := db.Select(&panels, "SELECT * FROM panels WHERE telegram_user_id = $1 ORDER BY id ASC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner panels: %w", err)
	}
	return panels, nil
}

// ListAgentPanels возвращает панели, назначенные агенту
func (db *DB) ListAgentPanels(ownerID int64) ([]models.Panel, error) {
	var panels []models.Panel
	err := db.Select(&panels, `
		SELECT p.* FROM agent_panels ap
		JOIN panels p ON p.id = ap.panel_id
		WHERE ap.agent_tg_id = $1
		ORDER BY p.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent panels: %w", err)
	}
	return panels, nil
}

// ListDisabledConfigs возвращает отключенные по имени конфигурации для набора панелей
func (db *DB) ListDisabledConfigs(panelIDs []int64) ([]models.DisabledConfig, error) {
	if len(panelIDs) == 0 {
		return nil, nil
	}
	var rows []models.DisabledConfig
	query, args, err := sqlx.In(
		"SELECT panel_id, config_name FROM panel_disabled_configs WHERE panel_id IN (?)", panelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build disabled configs query: %w", err)
	}
	err = db.Select(&rows, db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list disabled configs: %w", err)
	}
	return rows, nil
}

// ListDisabledNumbers возвращает отключенные по номеру конфигурации для набора панелей
func (db *DB) ListDisabledNumbers(panelIDs []int64) ([]models.DisabledNumber, error) {
	if len(panelIDs) == 0 {
		return nil, nil
	}
	var rows []models.DisabledNumber
	query, args, err := sqlx.In(
		"SELECT panel_id, config_index FROM panel_disabled_numbers WHERE panel_id IN (?)", panelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build disabled numbers query: %w", err)
	}
	err = db.Select(&rows, db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list disabled numbers: %w", err)
	}
	return rows, nil
}
