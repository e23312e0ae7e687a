// Package admin содержит административные операции над локальными
// аккаунтами: выпуск, изменение лимитов, продление, сброс и удаление
// с распространением изменений на панели.
package admin

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ilokitv/botPanel/internal/database"
	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

// Manager выполняет административные операции
type Manager struct {
	db       *database.DB
	adapters panel.Dispatcher
}

// NewManager создает менеджер административных операций
func NewManager(db *database.DB, adapters panel.Dispatcher) *Manager {
	return &Manager{db: db, adapters: adapters}
}

// RegisterPanel обменивает учетные данные администратора панели на токен
// доступа и сохраняет панель в базе
func (m *Manager) RegisterPanel(ownerID int64, panelURL, panelType, adminUser, adminPass string) (*models.Panel, error) {
	adapter := m.adapters.ForType(panelType)
	token, err := adapter.AdminToken(panelURL, adminUser, adminPass)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain panel token: %w", err)
	}

	p := &models.Panel{
		TelegramUserID: ownerID,
		PanelURL:       panelURL,
		AccessToken:    token,
		PanelType:      panelType,
	}
	if err := m.db.AddPanel(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateUser выпускает локальный аккаунт: сохраняет его в базе, выдает
// ключ подписки и создает удаленные аккаунты на всех панелях владельца.
// Сбой отдельной панели не отменяет выпуск: привязка просто не создается
// и ее можно добавить позже.
func (m *Manager) CreateUser(ownerID int64, username string, limitBytes int64, days int) (*models.LocalUser, string, error) {
	existing, err := m.db.GetLocalUser(ownerID, username)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", fmt.Errorf("аккаунт %s уже существует", username)
	}

	// Лимиты агента на количество аккаунтов и размер тарифа
	agent, err := m.db.GetAgent(ownerID)
	if err != nil {
		return nil, "", err
	}
	if agent != nil {
		if agent.UserLimit > 0 {
			count, err := m.db.CountLocalUsers(ownerID)
			if err != nil {
				return nil, "", err
			}
			if int64(count) >= agent.UserLimit {
				return nil, "", fmt.Errorf("достигнут лимит аккаунтов агента (%d)", agent.UserLimit)
			}
		}
		if agent.MaxUserBytes > 0 && limitBytes > agent.MaxUserBytes {
			return nil, "", fmt.Errorf("лимит %d превышает максимум агента %d", limitBytes, agent.MaxUserBytes)
		}
	}

	user := &models.LocalUser{
		OwnerID:        ownerID,
		Username:       username,
		PlanLimitBytes: limitBytes,
	}
	if days > 0 {
		expireAt := time.Now().UTC().AddDate(0, 0, days)
		user.ExpireAt = &expireAt
	}
	if err := m.db.AddLocalUser(user); err != nil {
		return nil, "", err
	}

	appKey := uuid.NewString()
	appUser := &models.AppUser{
		TelegramUserID: ownerID,
		Username:       username,
		AppKey:         appKey,
	}
	if err := m.db.AddAppUser(appUser); err != nil {
		return nil, "", err
	}

	panels, err := m.ownerPanels(ownerID, agent)
	if err != nil {
		return nil, "", err
	}
	for _, p := range panels {
		if err := m.provisionRemote(&p, user); err != nil {
			log.Printf("Не удалось создать аккаунт %s на панели %s: %v", username, p.PanelURL, err)
			continue
		}
		link := &models.PanelLink{
			OwnerID:        ownerID,
			LocalUsername:  username,
			PanelID:        p.ID,
			RemoteUsername: username,
		}
		if err := m.db.AddPanelLink(link); err != nil {
			log.Printf("Не удалось сохранить привязку %s к панели %s: %v", username, p.PanelURL, err)
		}
	}

	return user, appKey, nil
}

// provisionRemote создает удаленный аккаунт на панели. Для sanaei
// удаленные аккаунты заводятся на самой панели, поэтому создается
// только привязка.
func (m *Manager) provisionRemote(p *models.Panel, user *models.LocalUser) error {
	if p.PanelType == panel.TypeSanaei {
		return nil
	}

	payload := map[string]interface{}{"username": user.Username}
	if user.PlanLimitBytes > 0 {
		payload["data_limit"] = user.PlanLimitBytes
		payload["data_limit_reset_strategy"] = "no_reset"
	}
	if user.ExpireAt != nil {
		switch p.PanelType {
		case panel.TypeMarzban:
			payload["expire"] = user.ExpireAt.Unix()
		default:
			payload["expire_strategy"] = "fixed_date"
			payload["expire_date"] = user.ExpireAt.UTC().Format("2006-01-02T15:04:05Z")
		}
	}

	adapter := m.adapters.ForType(p.PanelType)
	_, err := adapter.CreateUser(p.PanelURL, p.AccessToken, payload)
	return err
}

// UpdateLimit устанавливает новый лимит трафика локально и на панелях
func (m *Manager) UpdateLimit(ownerID int64, username string, limitBytes int64) error {
	if err := m.db.SetPlanLimit(ownerID, username, limitBytes); err != nil {
		return err
	}
	m.pushUpdate(ownerID, username, &limitBytes, nil)
	return nil
}

// Renew продлевает срок действия аккаунта на указанное число дней и
// распространяет новую дату на панели
func (m *Manager) Renew(ownerID int64, username string, days int) (*time.Time, error) {
	expireAt, err := m.db.ExtendExpiry(ownerID, username, days)
	if err != nil {
		return nil, err
	}
	unix := expireAt.Unix()
	m.pushUpdate(ownerID, username, nil, &unix)
	return expireAt, nil
}

// ResetUsage обнуляет счетчики трафика локально и на панелях
func (m *Manager) ResetUsage(ownerID int64, username string) error {
	if err := m.db.ResetUsed(ownerID, username); err != nil {
		return err
	}

	rows, err := m.db.ListUserLinks(ownerID, username)
	if err != nil {
		return err
	}
	for _, row := range rows {
		adapter := m.adapters.ForType(row.PanelType)
		for _, remote := range panel.RemoteNames(row.PanelType, row.RemoteUsername) {
			if err := adapter.ResetUserUsage(row.PanelURL, row.AccessToken, remote); err != nil {
				log.Printf("Не удалось сбросить трафик %s на панели %s: %v", remote, row.PanelURL, err)
			}
		}
		// База отсчета обнуляется вместе со счетчиком панели
		if err := m.db.UpdateLastUsed(row.LinkID, 0); err != nil {
			log.Printf("Не удалось обнулить базу отсчета привязки %d: %v", row.LinkID, err)
		}
	}
	return nil
}

// DeleteUser удаляет аккаунт на панелях (по возможности) и в базе
func (m *Manager) DeleteUser(ownerID int64, username string) error {
	rows, err := m.db.ListUserLinks(ownerID, username)
	if err != nil {
		return err
	}
	for _, row := range rows {
		adapter := m.adapters.ForType(row.PanelType)
		for _, remote := range panel.RemoteNames(row.PanelType, row.RemoteUsername) {
			if err := adapter.RemoveUser(row.PanelURL, row.AccessToken, remote); err != nil {
				log.Printf("Не удалось удалить %s на панели %s: %v", remote, row.PanelURL, err)
			}
		}
	}
	return m.db.DeleteLocalUser(ownerID, username)
}

// pushUpdate распространяет изменение лимита и/или срока на все привязки
func (m *Manager) pushUpdate(ownerID int64, username string, dataLimit, expireAt *int64) {
	rows, err := m.db.ListUserLinks(ownerID, username)
	if err != nil {
		log.Printf("Не удалось получить привязки %d/%s: %v", ownerID, username, err)
		return
	}
	for _, row := range rows {
		adapter := m.adapters.ForType(row.PanelType)
		for _, remote := range panel.RemoteNames(row.PanelType, row.RemoteUsername) {
			if err := adapter.UpdateUser(row.PanelURL, row.AccessToken, remote, dataLimit, expireAt); err != nil {
				log.Printf("Не удалось обновить %s на панели %s: %v", remote, row.PanelURL, err)
			}
		}
	}
}

// ownerPanels возвращает панели владельца; для агента — назначенные ему
func (m *Manager) ownerPanels(ownerID int64, agent *models.Agent) ([]models.Panel, error) {
	if agent != nil {
		panels, err := m.db.ListAgentPanels(ownerID)
		if err != nil {
			return nil, err
		}
		if len(panels) > 0 {
			return panels, nil
		}
	}
	return m.db.ListOwnerPanels(ownerID)
}
