package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ilokitv/botPanel/internal/models"
)

// GetAgent возвращает агента по Telegram ID владельца или nil, если владелец
// не является зарегистрированным агентом (например, это администратор)
func (db *DB) GetAgent(ownerID int64) (*models.Agent, error) {
	var agent models.Agent
	err := db.Get(&agent,
		"SELECT * FROM agents WHERE telegram_user_id = $1 LIMIT 1", ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// AddAgent добавляет нового агента
func (db *DB) AddAgent(agent *models.Agent) error {
	if agent.Name == "" {
		return fmt.Errorf("имя агента не может быть пустым")
	}

	query := `
	INSERT INTO agents (telegram_user_id, name, plan_limit_bytes, expire_at, active, user_limit, max_user_bytes)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`

	row := db.QueryRow(query, agent.TelegramUserID, agent.Name, agent.PlanLimitBytes,
		agent.ExpireAt, agent.Active, agent.UserLimit, agent.MaxUserBytes)

	err := row.Scan(&agent.ID, &agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add agent: %w", err)
	}

	return nil
}

// UpdateAgentQuota устанавливает новый суммарный лимит агента; при
// положительном числе дней срок действия переназначается от текущего
// момента, ноль оставляет срок без изменений
func (db *DB) UpdateAgentQuota(tgID int64, limitBytes int64, days int) error {
	_, err := db.Exec(
		"UPDATE agents SET plan_limit_bytes = $1 WHERE telegram_user_id = $2",
		limitBytes, tgID)
	if err != nil {
		return fmt.Errorf("failed to update agent quota: %w", err)
	}

	if days > 0 {
		_, err = db.Exec(
			"UPDATE agents SET expire_at = NOW() + $1 * INTERVAL '1 day' WHERE telegram_user_id = $2",
			days, tgID)
		if err != nil {
			return fmt.Errorf("failed to update agent expiry: %w", err)
		}
	}
	return nil
}

// MarkAgentDisabled выставляет флаг идемпотентности агенту
func (db *DB) MarkAgentDisabled(ownerID int64) error {
	_, err := db.Exec(`
		UPDATE agents
		SET disabled_pushed = TRUE, disabled_pushed_at = NOW()
		WHERE telegram_user_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark agent disabled: %w", err)
	}
	return nil
}

// MarkAgentEnabled сбрасывает флаг идемпотентности агента
func (db *DB) MarkAgentEnabled(ownerID int64) error {
	_, err := db.Exec(`
		UPDATE agents
		SET disabled_pushed = FALSE, disabled_pushed_at = NULL
		WHERE telegram_user_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark agent enabled: %w", err)
	}
	return nil
}
