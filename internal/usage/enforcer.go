// Package usage содержит фоновую синхронизацию трафика с панелей и
// каскадное применение лимитов: сначала на уровне локального аккаунта,
// затем на уровне агента целиком.
package usage

import (
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

// Store описывает операции хранилища, нужные сборщику и контролеру лимитов
type Store interface {
	ListAllLinks() ([]models.LinkRow, error)
	UpdateLastUsed(linkID int64, used int64) error
	AddUsage(ownerID int64, username string, delta int64) error

	GetLocalUser(ownerID int64, username string) (*models.LocalUser, error)
	GetAgent(ownerID int64) (*models.Agent, error)
	ListUserLinks(ownerID int64, username string) ([]models.LinkRow, error)
	ListOwnerPanels(ownerID int64) ([]models.Panel, error)
	ListAgentPanels(ownerID int64) ([]models.Panel, error)
	ListLocalUsernames(ownerID int64) ([]string, error)

	MarkUserDisabled(ownerID int64, username string) error
	MarkUserEnabled(ownerID int64, username string) error
	MarkAllUsersDisabled(ownerID int64) error
	MarkAllUsersEnabled(ownerID int64) error
	MarkAgentDisabled(ownerID int64) error
	MarkAgentEnabled(ownerID int64) error
}

// Enforcer применяет лимиты и сроки действия: рассылает команды
// включения/отключения на панели и ведет флаги идемпотентности в базе
type Enforcer struct {
	store    Store
	adapters panel.Dispatcher
	bot      *tgbotapi.BotAPI // может быть nil, тогда уведомления не отправляются
	adminIDs []int64
}

// NewEnforcer создает контролер лимитов
func NewEnforcer(store Store, adapters panel.Dispatcher, bot *tgbotapi.BotAPI, adminIDs []int64) *Enforcer {
	return &Enforcer{
		store:    store,
		adapters: adapters,
		bot:      bot,
		adminIDs: adminIDs,
	}
}

// CheckUser сверяет состояние локального аккаунта с его лимитом и сроком
// действия и при смене состояния рассылает команды на панели
func (e *Enforcer) CheckUser(ownerID int64, username string) error {
	user, err := e.store.GetLocalUser(ownerID, username)
	if err != nil || user == nil {
		return err
	}

	shouldDisable := user.OverQuota() || user.Expired(time.Now())
	switch {
	case shouldDisable && !user.DisabledPushed:
		log.Printf("Пользователь %d/%s исчерпал лимит или срок действия, отключаем на панелях", ownerID, username)
		return e.PushUserDisable(ownerID, username)
	case !shouldDisable && user.DisabledPushed:
		log.Printf("Пользователь %d/%s снова в пределах лимита, включаем на панелях", ownerID, username)
		return e.PushUserEnable(ownerID, username)
	}
	return nil
}

// PushUserDisable отключает аккаунт на всех его панелях. Команды
// отправляются по принципу "лучших усилий": сбой отдельной панели
// логируется, но флаг идемпотентности выставляется в любом случае,
// чтобы не бомбардировать панели повторными командами каждый цикл.
func (e *Enforcer) PushUserDisable(ownerID int64, username string) error {
	rows, err := e.userRows(ownerID, username)
	if err != nil {
		return err
	}
	for _, row := range rows {
		e.pushRemote(row, false)
	}
	return e.store.MarkUserDisabled(ownerID, username)
}

// PushUserEnable включает аккаунт на всех его панелях и сбрасывает флаг
func (e *Enforcer) PushUserEnable(ownerID int64, username string) error {
	rows, err := e.userRows(ownerID, username)
	if err != nil {
		return err
	}
	for _, row := range rows {
		e.pushRemote(row, true)
	}
	return e.store.MarkUserEnabled(ownerID, username)
}

// CheckAgent сверяет суммарный расход и срок действия агента. Отключение
// агента каскадно отключает все его локальные аккаунты на всех панелях.
func (e *Enforcer) CheckAgent(ownerID int64) error {
	agent, err := e.store.GetAgent(ownerID)
	if err != nil || agent == nil {
		return err
	}
	if !agent.Active {
		return nil
	}

	shouldDisable := agent.OverQuota() || agent.Expired(time.Now())
	switch {
	case shouldDisable && !agent.DisabledPushed:
		log.Printf("Агент %s (%d) исчерпал лимит или срок действия, отключаем всех его пользователей", agent.Name, ownerID)
		if err := e.PushAgentDisable(ownerID); err != nil {
			return err
		}
		e.notify(fmt.Sprintf("⛔ Агент %s (%d) отключен: исчерпан суммарный лимит или истек срок действия", agent.Name, ownerID))
	case !shouldDisable && agent.DisabledPushed:
		log.Printf("Агент %s (%d) снова в пределах лимита, включаем его пользователей", agent.Name, ownerID)
		if err := e.PushAgentEnable(ownerID); err != nil {
			return err
		}
		e.notify(fmt.Sprintf("✅ Агент %s (%d) снова включен", agent.Name, ownerID))
	}
	return nil
}

// PushAgentDisable отключает все аккаунты агента на всех панелях
func (e *Enforcer) PushAgentDisable(ownerID int64) error {
	if err := e.pushAgent(ownerID, false); err != nil {
		return err
	}
	if err := e.store.MarkAllUsersDisabled(ownerID); err != nil {
		return err
	}
	return e.store.MarkAgentDisabled(ownerID)
}

// PushAgentEnable включает все аккаунты агента на всех панелях
func (e *Enforcer) PushAgentEnable(ownerID int64) error {
	if err := e.pushAgent(ownerID, true); err != nil {
		return err
	}
	if err := e.store.MarkAllUsersEnabled(ownerID); err != nil {
		return err
	}
	return e.store.MarkAgentEnabled(ownerID)
}

func (e *Enforcer) pushAgent(ownerID int64, enable bool) error {
	usernames, err := e.store.ListLocalUsernames(ownerID)
	if err != nil {
		return err
	}

	// Панели агента — запасной маршрут для аккаунтов без явных привязок
	agentPanels, err := e.store.ListAgentPanels(ownerID)
	if err != nil {
		log.Printf("Не удалось получить панели агента %d: %v", ownerID, err)
		agentPanels = nil
	}

	for _, username := range usernames {
		rows, err := e.store.ListUserLinks(ownerID, username)
		if err != nil {
			log.Printf("Не удалось получить привязки аккаунта %d/%s: %v", ownerID, username, err)
			continue
		}
		if len(rows) == 0 {
			rows = rowsFromPanels(agentPanels, ownerID, username)
		}
		for _, row := range rows {
			e.pushRemote(row, enable)
		}
	}
	return nil
}

// userRows возвращает привязки аккаунта; при их отсутствии строит
// псевдопривязки по всем панелям владельца с совпадающим именем
func (e *Enforcer) userRows(ownerID int64, username string) ([]models.LinkRow, error) {
	rows, err := e.store.ListUserLinks(ownerID, username)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	panels, err := e.store.ListOwnerPanels(ownerID)
	if err != nil {
		return nil, err
	}
	return rowsFromPanels(panels, ownerID, username), nil
}

// pushRemote отправляет команду включения/отключения по всем
// под-аккаунтам привязки, логируя сбои отдельных панелей
func (e *Enforcer) pushRemote(row models.LinkRow, enable bool) {
	adapter := e.adapters.ForType(row.PanelType)
	for _, remote := range panel.RemoteNames(row.PanelType, row.RemoteUsername) {
		var err error
		if enable {
			err = adapter.EnableUser(row.PanelURL, row.AccessToken, remote)
		} else {
			err = adapter.DisableUser(row.PanelURL, row.AccessToken, remote)
		}
		if err != nil {
			action := "отключить"
			if enable {
				action = "включить"
			}
			log.Printf("Не удалось %s %s на панели %s: %v", action, remote, row.PanelURL, err)
		}
	}
}

func rowsFromPanels(panels []models.Panel, ownerID int64, username string) []models.LinkRow {
	rows := make([]models.LinkRow, 0, len(panels))
	for _, p := range panels {
		rows = append(rows, models.LinkRow{
			OwnerID:        ownerID,
			LocalUsername:  username,
			PanelID:        p.ID,
			RemoteUsername: username,
			PanelURL:       p.PanelURL,
			AccessToken:    p.AccessToken,
			PanelType:      p.PanelType,
		})
	}
	return rows
}

// notify отправляет сообщение всем администраторам бота
func (e *Enforcer) notify(text string) {
	if e.bot == nil {
		return
	}
	for _, adminID := range e.adminIDs {
		msg := tgbotapi.NewMessage(adminID, text)
		if _, err := e.bot.Send(msg); err != nil {
			log.Printf("Не удалось отправить уведомление администратору %d: %v", adminID, err)
		}
	}
}
