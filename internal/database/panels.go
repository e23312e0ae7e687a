package database

import (
	"fmt"

	"github.com/ilokitv/botPanel/internal/models"
)

// AddPanel регистрирует панель владельца
func (db *DB) AddPanel(panel *models.Panel) error {
	if panel.PanelURL == "" {
		return fmt.Errorf("адрес панели не может быть пустым")
	}

	query := `
	INSERT INTO panels (telegram_user_id, panel_url, access_token, panel_type)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at, updated_at
	`

	row := db.QueryRow(query, panel.TelegramUserID, panel.PanelURL,
		panel.AccessToken, panel.PanelType)

	err := row.Scan(&panel.ID, &panel.CreatedAt, &panel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add panel: %w", err)
	}

	return nil
}

// UpdatePanelToken сохраняет новый токен доступа панели
func (db *DB) UpdatePanelToken(panelID int64, token string) error {
	_, err := db.Exec(
		"UPDATE panels SET access_token = $1, updated_at = NOW() WHERE id = $2",
		token, panelID)
	if err != nil {
		return fmt.Errorf("failed to update panel token: %w", err)
	}
	return nil
}

// DeletePanel удаляет панель; привязки и фильтры удаляются каскадно
func (db *DB) DeletePanel(panelID int64) error {
	_, err := db.Exec("DELETE FROM panels WHERE id = $1", panelID)
	if err != nil {
		return fmt.Errorf("failed to delete panel: %w", err)
	}
	return nil
}

// AddAgentPanel назначает панель агенту
func (db *DB) AddAgentPanel(agentTgID, panelID int64) error {
	_, err := db.Exec(`
		INSERT INTO agent_panels (agent_tg_id, panel_id)
		VALUES ($1, $2)
		ON CONFLICT (agent_tg_id, panel_id) DO NOTHING
	`, agentTgID, panelID)
	if err != nil {
		return fmt.Errorf("failed to add agent panel: %w", err)
	}
	return nil
}

// AddDisabledConfig отключает конфигурацию панели по имени
func (db *DB) AddDisabledConfig(panelID int64, configName string) error {
	_, err := db.Exec(`
		INSERT INTO panel_disabled_configs (panel_id, config_name)
		VALUES ($1, $2)
		ON CONFLICT (panel_id, config_name) DO NOTHING
	`, panelID, configName)
	if err != nil {
		return fmt.Errorf("failed to add disabled config: %w", err)
	}
	return nil
}

// RemoveDisabledConfig снимает отключение конфигурации по имени
func (db *DB) RemoveDisabledConfig(panelID int64, configName string) error {
	_, err := db.Exec(
		"DELETE FROM panel_disabled_configs WHERE panel_id = $1 AND config_name = $2",
		panelID, configName)
	if err != nil {
		return fmt.Errorf("failed to remove disabled config: %w", err)
	}
	return nil
}

// AddDisabledNumber отключает конфигурацию панели по порядковому номеру
func (db *DB) AddDisabledNumber(panelID int64, configIndex int) error {
	_, err := db.Exec(`
		INSERT INTO panel_disabled_numbers (panel_id, config_index)
		VALUES ($1, $2)
		ON CONFLICT (panel_id, config_index) DO NOTHING
	`, panelID, configIndex)
	if err != nil {
		return fmt.Errorf("failed to add disabled number: %w", err)
	}
	return nil
}

// RemoveDisabledNumber снимает отключение конфигурации по номеру
func (db *DB) RemoveDisabledNumber(panelID int64, configIndex int) error {
	_, err := db.Exec(
		"DELETE FROM panel_disabled_numbers WHERE panel_id = $1 AND config_index = $2",
		panelID, configIndex)
	if err != nil {
		return fmt.Errorf("failed to remove disabled number: %w", err)
	}
	return nil
}
