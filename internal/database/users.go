package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ilokitv/botPanel/internal/models"
)

// maxBigint — максимальное представимое значение счетчика трафика
const maxBigint = int64(9223372036854775807)

// GetOwnerID возвращает владельца по имени и ключу подписки, 0 если не найден
func (db *DB) GetOwnerID(appUsername, appKey string) (int64, error) {
	var ownerID int64
	err := db.Get(&ownerID,
		"SELECT telegram_user_id FROM app_users WHERE username = $1 AND app_key = $2 LIMIT 1",
		appUsername, appKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get owner id: %w", err)
	}
	return ownerID, nil
}

// AddAppUser добавляет учетные данные подписки
func (db *DB) AddAppUser(appUser *models.AppUser) error {
	query := `
	INSERT INTO app_users (telegram_user_id, username, app_key)
	VALUES ($1, $2, $3)
	ON CONFLICT (telegram_user_id, username) DO UPDATE SET app_key = $3
	RETURNING id, created_at
	`

	row := db.QueryRow(query, appUser.TelegramUserID, appUser.Username, appUser.AppKey)

	err := row.Scan(&appUser.ID, &appUser.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add app user: %w", err)
	}

	return nil
}

// GetLocalUser возвращает локальный аккаунт или nil, если он не найден
func (db *DB) GetLocalUser(ownerID int64, username string) (*models.LocalUser, error) {
	var user models.LocalUser
	err := db.Get(&user,
		"SELECT * FROM local_users WHERE owner_id = $1 AND username = $2 LIMIT 1",
		ownerID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local user: %w", err)
	}
	return &user, nil
}

// AddLocalUser добавляет новый локальный аккаунт
func (db *DB) AddLocalUser(user *models.LocalUser) error {
	// Валидация входных данных
	if user.Username == "" {
		return fmt.Errorf("имя пользователя не может быть пустым")
	}
	if user.PlanLimitBytes < 0 {
		return fmt.Errorf("некорректный лимит трафика: %d", user.PlanLimitBytes)
	}

	query := `
	INSERT INTO local_users (owner_id, username, plan_limit_bytes, expire_at, note)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at, updated_at
	`

	row := db.QueryRow(query, user.OwnerID, user.Username, user.PlanLimitBytes,
		user.ExpireAt, user.Note)

	err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add local user: %w", err)
	}

	return nil
}

// ListLocalUsernames возвращает имена всех локальных аккаунтов владельца
func (db *DB) ListLocalUsernames(ownerID int64) ([]string, error) {
	var usernames []string
	err := db.Select(&usernames, "SELECT username FROM local_users WHERE owner_id = $1", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local usernames: %w", err)
	}
	return usernames, nil
}

// CountLocalUsers возвращает количество локальных аккаунтов владельца
func (db *DB) CountLocalUsers(ownerID int64) (int, error) {
	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM local_users WHERE owner_id = $1", ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count local users: %w", err)
	}
	return count, nil
}

// AddPanelLink добавляет привязку локального аккаунта к панели
func (db *DB) AddPanelLink(link *models.PanelLink) error {
	query := `
	INSERT INTO local_user_panel_links (owner_id, local_username, panel_id, remote_username, last_used_traffic)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (owner_id, local_username, panel_id) DO UPDATE
	SET remote_username = $4, updated_at = NOW()
	RETURNING id, created_at, updated_at
	`

	row := db.QueryRow(query, link.OwnerID, link.LocalUsername, link.PanelID,
		link.RemoteUsername, link.LastUsedTraffic)

	err := row.Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add panel link: %w", err)
	}

	return nil
}

// ListAllLinks возвращает все привязки вместе с данными панелей
func (db *DB) ListAllLinks() ([]models.LinkRow, error) {
	var links []models.LinkRow
	err := db.Select(&links, `
		SELECT lup.id AS link_id,
		       lup.owner_id,
		       lup.local_username,
		       lup.panel_id,
		       lup.remote_username,
		       lup.last_used_traffic,
		       p.panel_url,
		       p.access_token,
		       p.panel_type
		FROM local_user_panel_links lup
		JOIN panels p ON p.id = lup.panel_id
		ORDER BY lup.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all links: %w", err)
	}
	return links, nil
}

// ListUserLinks возвращает привязки конкретного локального аккаунта
func (db *DB) ListUserLinks(ownerID int64, username string) ([]models.LinkRow, error) {
	var links []models.LinkRow
	err := db.Select(&links, `
		SELECT lup.id AS link_id,
		       lup.owner_id,
		       lup.local_username,
		       lup.panel_id,
		       lup.remote_username,
		       lup.last_used_traffic,
		       p.panel_url,
		       p.access_token,
		       p.panel_type
		FROM local_user_panel_links lup
		JOIN panels p ON p.id = lup.panel_id
		WHERE lup.owner_id = $1 AND lup.local_username = $2
		ORDER BY lup.id ASC
	`, ownerID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list user links: %w", err)
	}
	return links, nil
}

// UpdateLastUsed сохраняет новую базу отсчета трафика для привязки
func (db *DB) UpdateLastUsed(linkID int64, used int64) error {
	_, err := db.Exec(
		"UPDATE local_user_panel_links SET last_used_traffic = $1, updated_at = NOW() WHERE id = $2",
		used, linkID)
	if err != nil {
		return fmt.Errorf("failed to update last used traffic: %w", err)
	}
	return nil
}

// AddUsage атомарно начисляет дельту трафика локальному аккаунту и его агенту.
// Оба счетчика обновляются в одной транзакции, чтобы сумма по агенту
// оставалась точной при конкурентных вызовах.
func (db *DB) AddUsage(ownerID int64, username string, delta int64) error {
	if delta <= 0 {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("ошибка при создании транзакции: %w", err)
	}

	// Отложенный откат транзакции в случае ошибки
	defer func() {
		if err != nil {
			log.Printf("Откат транзакции начисления трафика: %v", err)
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		UPDATE local_users
		SET used_bytes = LEAST(used_bytes + $1, $2), updated_at = NOW()
		WHERE owner_id = $3 AND username = $4
	`, delta, maxBigint, ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to add usage to local user: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE agents
		SET total_used_bytes = LEAST(total_used_bytes + $1, $2)
		WHERE telegram_user_id = $3
	`, delta, maxBigint, ownerID)
	if err != nil {
		return fmt.Errorf("failed to add usage to agent: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return nil
}

// SetPlanLimit устанавливает лимит трафика локального аккаунта
func (db *DB) SetPlanLimit(ownerID int64, username string, limitBytes int64) error {
	_, err := db.Exec(
		"UPDATE local_users SET plan_limit_bytes = $1, updated_at = NOW() WHERE owner_id = $2 AND username = $3",
		limitBytes, ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to set plan limit: %w", err)
	}
	return nil
}

// ExtendExpiry продлевает срок действия аккаунта на указанное число дней
// и возвращает новую дату окончания. Если срок не был задан, отсчет идет от
// текущего момента.
func (db *DB) ExtendExpiry(ownerID int64, username string, addDays int) (*time.Time, error) {
	var expireAt time.Time
	err := db.Get(&expireAt, `
		UPDATE local_users
		SET expire_at = COALESCE(expire_at, NOW()) + $1 * INTERVAL '1 day', updated_at = NOW()
		WHERE owner_id = $2 AND username = $3
		RETURNING expire_at
	`, addDays, ownerID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to extend expiry: %w", err)
	}
	return &expireAt, nil
}

// ResetUsed обнуляет счетчик трафика аккаунта и списывает прежнее значение
// с суммарного счетчика агента (не ниже нуля), в одной транзакции
func (db *DB) ResetUsed(ownerID int64, username string) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("ошибка при создании транзакции: %w", err)
	}

	defer func() {
		if err != nil {
			log.Printf("Откат транзакции сброса трафика: %v", err)
			tx.Rollback()
		}
	}()

	var prevUsed int64
	err = tx.Get(&prevUsed,
		"SELECT used_bytes FROM local_users WHERE owner_id = $1 AND username = $2 LIMIT 1",
		ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to get used bytes: %w", err)
	}

	_, err = tx.Exec(
		"UPDATE local_users SET used_bytes = 0, updated_at = NOW() WHERE owner_id = $1 AND username = $2",
		ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to reset used bytes: %w", err)
	}

	if prevUsed > 0 {
		_, err = tx.Exec(
			"UPDATE agents SET total_used_bytes = GREATEST(total_used_bytes - $1, 0) WHERE telegram_user_id = $2",
			prevUsed, ownerID)
		if err != nil {
			return fmt.Errorf("failed to credit agent total: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return nil
}

// DeleteLocalUser удаляет локальный аккаунт вместе с привязками и ключом
// подписки, списывая накопленный трафик с суммарного счетчика агента
func (db *DB) DeleteLocalUser(ownerID int64, username string) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("ошибка при создании транзакции: %w", err)
	}

	defer func() {
		if err != nil {
			log.Printf("Откат транзакции удаления аккаунта: %v", err)
			tx.Rollback()
		}
	}()

	var prevUsed int64
	err = tx.Get(&prevUsed,
		"SELECT used_bytes FROM local_users WHERE owner_id = $1 AND username = $2 LIMIT 1",
		ownerID, username)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		prevUsed = 0
	}
	if err != nil {
		return fmt.Errorf("failed to get used bytes: %w", err)
	}

	_, err = tx.Exec(
		"DELETE FROM local_user_panel_links WHERE owner_id = $1 AND local_username = $2",
		ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to delete panel links: %w", err)
	}

	_, err = tx.Exec(
		"DELETE FROM local_users WHERE owner_id = $1 AND username = $2",
		ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to delete local user: %w", err)
	}

	_, err = tx.Exec(
		"DELETE FROM app_users WHERE telegram_user_id = $1 AND username = $2",
		ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to delete app user: %w", err)
	}

	if prevUsed > 0 {
		_, err = tx.Exec(
			"UPDATE agents SET total_used_bytes = GREATEST(total_used_bytes - $1, 0) WHERE telegram_user_id = $2",
			prevUsed, ownerID)
		if err != nil {
			return fmt.Errorf("failed to credit agent total: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return nil
}

// MarkUserDisabled выставляет флаг идемпотентности после попытки отключения
func (db *DB) MarkUserDisabled(ownerID int64, username string) error {
	_, err := db.Exec(`
		UPDATE local_users
		SET disabled_pushed = TRUE, disabled_pushed_at = NOW(), updated_at = NOW()
		WHERE owner_id = $1 AND username = $2
	`, ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to mark user disabled: %w", err)
	}
	return nil
}

// MarkUserEnabled сбрасывает флаг идемпотентности после попытки включения
func (db *DB) MarkUserEnabled(ownerID int64, username string) error {
	_, err := db.Exec(`
		UPDATE local_users
		SET disabled_pushed = FALSE, disabled_pushed_at = NULL, updated_at = NOW()
		WHERE owner_id = $1 AND username = $2
	`, ownerID, username)
	if err != nil {
		return fmt.Errorf("failed to mark user enabled: %w", err)
	}
	return nil
}

// MarkAllUsersDisabled выставляет флаг всем аккаунтам владельца
func (db *DB) MarkAllUsersDisabled(ownerID int64) error {
	_, err := db.Exec(`
		UPDATE local_users
		SET disabled_pushed = TRUE, disabled_pushed_at = NOW(), updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark all users disabled: %w", err)
	}
	return nil
}

// MarkAllUsersEnabled сбрасывает флаг всем аккаунтам владельца
func (db *DB) MarkAllUsersEnabled(ownerID int64) error {
	_, err := db.Exec(`
		UPDATE local_users
		SET disabled_pushed = FALSE, disabled_pushed_at = NULL, updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark all users enabled: %w", err)
	}
	return nil
}
