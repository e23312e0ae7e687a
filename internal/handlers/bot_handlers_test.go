package handlers

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/models"
)

const adminID = int64(99)

type fakeSender struct {
	texts []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

type fakeBotStore struct {
	quotaTgID  int64
	quotaLimit int64
	quotaDays  int
	quotaCalls int

	agents []*models.Agent
}

func (s *fakeBotStore) GetLocalUser(ownerID int64, username string) (*models.LocalUser, error) {
	return nil, nil
}

func (s *fakeBotStore) AddAgent(agent *models.Agent) error {
	s.agents = append(s.agents, agent)
	return nil
}

func (s *fakeBotStore) UpdateAgentQuota(tgID int64, limitBytes int64, days int) error {
	s.quotaCalls++
	s.quotaTgID = tgID
	s.quotaLimit = limitBytes
	s.quotaDays = days
	return nil
}

func (s *fakeBotStore) AddAgentPanel(agentTgID, panelID int64) error          { return nil }
func (s *fakeBotStore) AddDisabledConfig(panelID int64, name string) error    { return nil }
func (s *fakeBotStore) AddDisabledNumber(panelID int64, configIndex int) error { return nil }

type fakeChecker struct {
	checked []int64
}

func (c *fakeChecker) CheckAgent(ownerID int64) error {
	c.checked = append(c.checked, ownerID)
	return nil
}

func newTestHandler() (*BotHandler, *fakeSender, *fakeBotStore, *fakeChecker) {
	sender := &fakeSender{}
	store := &fakeBotStore{}
	checker := &fakeChecker{}
	cfg := &config.Config{}
	cfg.Bot.AdminIDs = []int64{adminID}
	return NewBotHandler(sender, store, nil, checker, cfg), sender, store, checker
}

func commandUpdate(userID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
	}}
}

func TestSetAgentQuotaRecheckImmediate(t *testing.T) {
	h, sender, store, checker := newTestHandler()

	h.HandleUpdate(commandUpdate(adminID, "/setagent 42 5 30"))

	require.Equal(t, 1, store.quotaCalls)
	assert.Equal(t, int64(42), store.quotaTgID)
	assert.Equal(t, int64(5*(1<<30)), store.quotaLimit)
	assert.Equal(t, 30, store.quotaDays)

	// Пересчет происходит в той же команде, без ожидания фонового цикла
	require.Equal(t, []int64{42}, checker.checked)

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "Квота агента 42 обновлена")
}

func TestSetAgentQuotaZeroDaysKeepsExpiry(t *testing.T) {
	h, _, store, checker := newTestHandler()

	h.HandleUpdate(commandUpdate(adminID, "/setagent 42 10 0"))

	require.Equal(t, 1, store.quotaCalls)
	assert.Equal(t, 0, store.quotaDays)
	assert.Equal(t, []int64{42}, checker.checked)
}

func TestSetAgentQuotaAdminOnly(t *testing.T) {
	h, sender, store, checker := newTestHandler()

	h.HandleUpdate(commandUpdate(12345, "/setagent 42 5 30"))

	assert.Zero(t, store.quotaCalls)
	assert.Empty(t, checker.checked)
	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "только администраторам")
}

func TestSetAgentQuotaBadArgs(t *testing.T) {
	h, sender, store, checker := newTestHandler()

	h.HandleUpdate(commandUpdate(adminID, "/setagent 42 5"))

	assert.Zero(t, store.quotaCalls)
	assert.Empty(t, checker.checked)
	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "Использование")
}

func TestAddAgentRegisters(t *testing.T) {
	h, sender, store, _ := newTestHandler()

	h.HandleUpdate(commandUpdate(adminID, "/addagent 77 vasya 100 30"))

	require.Len(t, store.agents, 1)
	agent := store.agents[0]
	assert.Equal(t, int64(77), agent.TelegramUserID)
	assert.Equal(t, "vasya", agent.Name)
	assert.Equal(t, int64(100*(1<<30)), agent.PlanLimitBytes)
	assert.True(t, agent.Active)
	require.NotNil(t, agent.ExpireAt)

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "зарегистрирован")
}
