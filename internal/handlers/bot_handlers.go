// Package handlers содержит обработчик административного Telegram бота:
// выпуск и обслуживание локальных аккаунтов, регистрация панелей,
// управление агентами и фильтрами конфигураций.
package handlers

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ilokitv/botPanel/internal/admin"
	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/subscription"
)

// Sender отправляет сообщения в Telegram; реализуется *tgbotapi.BotAPI
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Store описывает операции хранилища, нужные обработчику бота
type Store interface {
	GetLocalUser(ownerID int64, username string) (*models.LocalUser, error)
	AddAgent(agent *models.Agent) error
	UpdateAgentQuota(tgID int64, limitBytes int64, days int) error
	AddAgentPanel(agentTgID, panelID int64) error
	AddDisabledConfig(panelID int64, configName string) error
	AddDisabledNumber(panelID int64, configIndex int) error
}

// AgentChecker немедленно пересчитывает состояние агента после изменения
// квоты, не дожидаясь фонового цикла
type AgentChecker interface {
	CheckAgent(ownerID int64) error
}

// BotHandler обрабатывает взаимодействие с Telegram ботом
type BotHandler struct {
	bot     Sender
	db      Store
	manager *admin.Manager
	checker AgentChecker
	config  *config.Config
}

// NewBotHandler создает нового обработчика бота
func NewBotHandler(bot Sender, db Store, manager *admin.Manager, checker AgentChecker, cfg *config.Config) *BotHandler {
	return &BotHandler{
		bot:     bot,
		db:      db,
		manager: manager,
		checker: checker,
		config:  cfg,
	}
}

// IsAdmin проверяет, является ли пользователь администратором
func (h *BotHandler) IsAdmin(userID int64) bool {
	for _, adminID := range h.config.Bot.AdminIDs {
		if adminID == userID {
			return true
		}
	}
	return false
}

// HandleUpdate обрабатывает обновление от Telegram
func (h *BotHandler) HandleUpdate(update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	h.handleCommand(update.Message)
}

// handleCommand обрабатывает команды бота
func (h *BotHandler) handleCommand(message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID
	args := strings.Fields(message.CommandArguments())

	// Агент управляет своим пулом аккаунтов; команды администрирования
	// агентов и фильтров доступны только администраторам
	switch message.Command() {
	case "start", "help":
		h.sendHelp(chatID, h.IsAdmin(userID))
	case "adduser":
		h.handleAddUser(chatID, userID, args)
	case "user":
		h.handleUserInfo(chatID, userID, args)
	case "setlimit":
		h.handleSetLimit(chatID, userID, args)
	case "renew":
		h.handleRenew(chatID, userID, args)
	case "reset":
		h.handleReset(chatID, userID, args)
	case "deluser":
		h.handleDeleteUser(chatID, userID, args)
	case "addpanel":
		h.handleAddPanel(chatID, userID, args)
	case "addagent":
		h.requireAdmin(chatID, userID, func() { h.handleAddAgent(chatID, args) })
	case "setagent":
		h.requireAdmin(chatID, userID, func() { h.handleSetAgentQuota(chatID, args) })
	case "assignpanel":
		h.requireAdmin(chatID, userID, func() { h.handleAssignPanel(chatID, args) })
	case "disablecfg":
		h.requireAdmin(chatID, userID, func() { h.handleDisableConfig(chatID, args) })
	case "disablenum":
		h.requireAdmin(chatID, userID, func() { h.handleDisableNumber(chatID, args) })
	default:
		h.send(chatID, "Неизвестная команда. Отправьте /help для списка команд.")
	}
}

func (h *BotHandler) requireAdmin(chatID, userID int64, fn func()) {
	if !h.IsAdmin(userID) {
		h.send(chatID, "Команда доступна только администраторам.")
		return
	}
	fn()
}

func (h *BotHandler) sendHelp(chatID int64, isAdmin bool) {
	text := `Команды управления аккаунтами:
/adduser <имя> <лимит_ГБ> <дней> — выпустить аккаунт
/user <имя> — состояние аккаунта
/setlimit <имя> <лимит_ГБ> — изменить лимит трафика
/renew <имя> <дней> — продлить срок действия
/reset <имя> — обнулить счетчик трафика
/deluser <имя> — удалить аккаунт
/addpanel <тип> <url> <логин> <пароль> — подключить панель`
	if isAdmin {
		text += `

Команды администратора:
/addagent <tg_id> <имя> <лимит_ГБ> <дней> — зарегистрировать агента
/setagent <tg_id> <лимит_ГБ> <дней> — изменить квоту агента (0 дней — срок без изменений)
/assignpanel <tg_id> <panel_id> — назначить панель агенту
/disablecfg <panel_id> <имя конфигурации> — скрыть конфигурацию по имени
/disablenum <panel_id> <номер> — скрыть конфигурацию по номеру`
	}
	h.send(chatID, text)
}

// handleAddUser выпускает локальный аккаунт и отдает ключ подписки
func (h *BotHandler) handleAddUser(chatID, ownerID int64, args []string) {
	if len(args) != 3 {
		h.send(chatID, "Использование: /adduser <имя> <лимит_ГБ> <дней>")
		return
	}
	limitBytes, err := parseGigabytes(args[1])
	if err != nil {
		h.send(chatID, "Некорректный лимит: "+args[1])
		return
	}
	days, err := strconv.Atoi(args[2])
	if err != nil || days < 0 {
		h.send(chatID, "Некорректное число дней: "+args[2])
		return
	}

	user, appKey, err := h.manager.CreateUser(ownerID, args[0], limitBytes, days)
	if err != nil {
		log.Printf("Ошибка выпуска аккаунта %s: %v", args[0], err)
		h.send(chatID, "Не удалось выпустить аккаунт: "+err.Error())
		return
	}

	h.send(chatID, fmt.Sprintf("Аккаунт %s выпущен.\nКлюч подписки: %s\nПуть подписки: /sub/%s/%s/links",
		user.Username, appKey, user.Username, appKey))
}

// handleUserInfo показывает состояние локального аккаунта
func (h *BotHandler) handleUserInfo(chatID, ownerID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /user <имя>")
		return
	}

	user, err := h.db.GetLocalUser(ownerID, args[0])
	if err != nil {
		log.Printf("Ошибка загрузки аккаунта %s: %v", args[0], err)
		h.send(chatID, "Ошибка загрузки аккаунта.")
		return
	}
	if user == nil {
		h.send(chatID, "Аккаунт не найден: "+args[0])
		return
	}

	limit := "безлимит"
	if user.PlanLimitBytes > 0 {
		limit = subscription.FormatBytes(user.PlanLimitBytes)
	}
	expire := "не задан"
	if user.ExpireAt != nil {
		expire = user.ExpireAt.Format("2006-01-02 15:04")
	}
	state := "активен"
	if user.DisabledPushed {
		state = "отключен"
	}

	h.send(chatID, fmt.Sprintf("Аккаунт %s\nТрафик: %s / %s\nСрок: %s\nСостояние: %s",
		user.Username, subscription.FormatBytes(user.UsedBytes), limit, expire, state))
}

func (h *BotHandler) handleSetLimit(chatID, ownerID int64, args []string) {
	if len(args) != 2 {
		h.send(chatID, "Использование: /setlimit <имя> <лимит_ГБ>")
		return
	}
	limitBytes, err := parseGigabytes(args[1])
	if err != nil {
		h.send(chatID, "Некорректный лимит: "+args[1])
		return
	}

	if err := h.manager.UpdateLimit(ownerID, args[0], limitBytes); err != nil {
		log.Printf("Ошибка изменения лимита %s: %v", args[0], err)
		h.send(chatID, "Не удалось изменить лимит.")
		return
	}
	h.send(chatID, fmt.Sprintf("Лимит аккаунта %s обновлен: %s", args[0], subscription.FormatBytes(limitBytes)))
}

func (h *BotHandler) handleRenew(chatID, ownerID int64, args []string) {
	if len(args) != 2 {
		h.send(chatID, "Использование: /renew <имя> <дней>")
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		h.send(chatID, "Некорректное число дней: "+args[1])
		return
	}

	expireAt, err := h.manager.Renew(ownerID, args[0], days)
	if err != nil {
		log.Printf("Ошибка продления %s: %v", args[0], err)
		h.send(chatID, "Не удалось продлить аккаунт.")
		return
	}
	h.send(chatID, fmt.Sprintf("Аккаунт %s продлен до %s", args[0], expireAt.Format("2006-01-02 15:04")))
}

func (h *BotHandler) handleReset(chatID, ownerID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /reset <имя>")
		return
	}
	if err := h.manager.ResetUsage(ownerID, args[0]); err != nil {
		log.Printf("Ошибка сброса трафика %s: %v", args[0], err)
		h.send(chatID, "Не удалось сбросить трафик.")
		return
	}
	h.send(chatID, "Счетчик трафика аккаунта "+args[0]+" обнулен.")
}

func (h *BotHandler) handleDeleteUser(chatID, ownerID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /deluser <имя>")
		return
	}
	if err := h.manager.DeleteUser(ownerID, args[0]); err != nil {
		log.Printf("Ошибка удаления аккаунта %s: %v", args[0], err)
		h.send(chatID, "Не удалось удалить аккаунт.")
		return
	}
	h.send(chatID, "Аккаунт "+args[0]+" удален.")
}

func (h *BotHandler) handleAddPanel(chatID, ownerID int64, args []string) {
	if len(args) != 4 {
		h.send(chatID, "Использование: /addpanel <тип> <url> <логин> <пароль>")
		return
	}

	p, err := h.manager.RegisterPanel(ownerID, args[1], args[0], args[2], args[3])
	if err != nil {
		log.Printf("Ошибка подключения панели %s: %v", args[1], err)
		h.send(chatID, "Не удалось подключить панель: "+err.Error())
		return
	}
	h.send(chatID, fmt.Sprintf("Панель #%d (%s) подключена.", p.ID, p.PanelType))
}

func (h *BotHandler) handleAddAgent(chatID int64, args []string) {
	if len(args) != 4 {
		h.send(chatID, "Использование: /addagent <tg_id> <имя> <лимит_ГБ> <дней>")
		return
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.send(chatID, "Некорректный Telegram ID: "+args[0])
		return
	}
	limitBytes, err := parseGigabytes(args[2])
	if err != nil {
		h.send(chatID, "Некорректный лимит: "+args[2])
		return
	}
	days, err := strconv.Atoi(args[3])
	if err != nil || days < 0 {
		h.send(chatID, "Некорректное число дней: "+args[3])
		return
	}

	agent := &models.Agent{
		TelegramUserID: tgID,
		Name:           args[1],
		PlanLimitBytes: limitBytes,
		Active:         true,
	}
	if days > 0 {
		expireAt := time.Now().UTC().AddDate(0, 0, days)
		agent.ExpireAt = &expireAt
	}
	if err := h.db.AddAgent(agent); err != nil {
		log.Printf("Ошибка регистрации агента %d: %v", tgID, err)
		h.send(chatID, "Не удалось зарегистрировать агента.")
		return
	}
	h.send(chatID, fmt.Sprintf("Агент %s (%d) зарегистрирован.", agent.Name, tgID))
}

// handleSetAgentQuota меняет квоту существующего агента и сразу прогоняет
// агентскую проверку: новый лимит вступает в силу немедленно, включая
// каскадное отключение или обратное включение пользователей агента
func (h *BotHandler) handleSetAgentQuota(chatID int64, args []string) {
	if len(args) != 3 {
		h.send(chatID, "Использование: /setagent <tg_id> <лимит_ГБ> <дней>")
		return
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.send(chatID, "Некорректный Telegram ID: "+args[0])
		return
	}
	limitBytes, err := parseGigabytes(args[1])
	if err != nil {
		h.send(chatID, "Некорректный лимит: "+args[1])
		return
	}
	days, err := strconv.Atoi(args[2])
	if err != nil || days < 0 {
		h.send(chatID, "Некорректное число дней: "+args[2])
		return
	}

	if err := h.db.UpdateAgentQuota(tgID, limitBytes, days); err != nil {
		log.Printf("Ошибка изменения квоты агента %d: %v", tgID, err)
		h.send(chatID, "Не удалось изменить квоту агента.")
		return
	}
	if err := h.checker.CheckAgent(tgID); err != nil {
		log.Printf("Ошибка пересчета агента %d: %v", tgID, err)
	}

	limit := "безлимит"
	if limitBytes > 0 {
		limit = subscription.FormatBytes(limitBytes)
	}
	h.send(chatID, fmt.Sprintf("Квота агента %d обновлена: %s.", tgID, limit))
}

func (h *BotHandler) handleAssignPanel(chatID int64, args []string) {
	if len(args) != 2 {
		h.send(chatID, "Использование: /assignpanel <tg_id> <panel_id>")
		return
	}
	tgID, err1 := strconv.ParseInt(args[0], 10, 64)
	panelID, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		h.send(chatID, "Некорректные аргументы.")
		return
	}

	if err := h.db.AddAgentPanel(tgID, panelID); err != nil {
		log.Printf("Ошибка назначения панели %d агенту %d: %v", panelID, tgID, err)
		h.send(chatID, "Не удалось назначить панель.")
		return
	}
	h.send(chatID, fmt.Sprintf("Панель #%d назначена агенту %d.", panelID, tgID))
}

func (h *BotHandler) handleDisableConfig(chatID int64, args []string) {
	if len(args) < 2 {
		h.send(chatID, "Использование: /disablecfg <panel_id> <имя конфигурации>")
		return
	}
	panelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.send(chatID, "Некорректный panel_id: "+args[0])
		return
	}

	// Имя хранится в канонической форме, как и сравнивается при выдаче
	name := subscription.CanonicalizeName(strings.Join(args[1:], " "))
	if err := h.db.AddDisabledConfig(panelID, name); err != nil {
		log.Printf("Ошибка отключения конфигурации %q: %v", name, err)
		h.send(chatID, "Не удалось отключить конфигурацию.")
		return
	}
	h.send(chatID, fmt.Sprintf("Конфигурация %q панели #%d скрыта из подписок.", name, panelID))
}

func (h *BotHandler) handleDisableNumber(chatID int64, args []string) {
	if len(args) != 2 {
		h.send(chatID, "Использование: /disablenum <panel_id> <номер>")
		return
	}
	panelID, err1 := strconv.ParseInt(args[0], 10, 64)
	index, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || index < 1 {
		h.send(chatID, "Некорректные аргументы.")
		return
	}

	if err := h.db.AddDisabledNumber(panelID, index); err != nil {
		log.Printf("Ошибка отключения конфигурации №%d: %v", index, err)
		h.send(chatID, "Не удалось отключить конфигурацию.")
		return
	}
	h.send(chatID, fmt.Sprintf("Конфигурация №%d панели #%d скрыта из подписок.", index, panelID))
}

func (h *BotHandler) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.Printf("Ошибка отправки сообщения: %v", err)
	}
}

// parseGigabytes переводит лимит в гигабайтах (допустимы дробные) в байты;
// ноль означает безлимит
func parseGigabytes(s string) (int64, error) {
	gb, err := strconv.ParseFloat(s, 64)
	if err != nil || gb < 0 {
		return 0, fmt.Errorf("некорректное значение: %s", s)
	}
	return int64(gb * (1 << 30)), nil
}
