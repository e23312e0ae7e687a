package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

func newEnforcer(store *memStore, adapter *stubAdapter) *Enforcer {
	return NewEnforcer(store, &stubDispatcher{adapter: adapter}, nil, nil)
}

func TestCheckUserDisablesOnQuota(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 1000, 1000)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)
	addLink(store, 2, 1, "alice", panel.TypeMarzban, "alice-remote", 0)

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	// Команда отключения уходит на каждую привязку
	assert.Equal(t, 1, adapter.disabledCount("alice"))
	assert.Equal(t, 1, adapter.disabledCount("alice-remote"))
	assert.True(t, user.DisabledPushed)
}

func TestCheckUserZeroLimitNeverDisables(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 0, 1<<40)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	// Нулевой лимит означает безлимит
	assert.Equal(t, 0, adapter.disabledCount("alice"))
	assert.False(t, user.DisabledPushed)
}

func TestCheckUserDisablesOnExpiry(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 0, 0)
	past := time.Now().Add(-time.Hour)
	user.ExpireAt = &past
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	assert.Equal(t, 1, adapter.disabledCount("alice"))
	assert.True(t, user.DisabledPushed)
}

func TestCheckUserFlagSetDespiteRemoteFailure(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 1000, 2000)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	adapter := newStubAdapter()
	adapter.disableErr = &panel.Error{Kind: panel.KindTransient, Msg: "timeout"}

	e := newEnforcer(store, adapter)
	require.NoError(t, e.CheckUser(1, "alice"))

	// Флаг выставляется даже при сбое панели, чтобы не бомбардировать ее
	// повторными командами каждый цикл
	assert.True(t, user.DisabledPushed)
	assert.Equal(t, 1, adapter.disabledCount("alice"))

	require.NoError(t, e.CheckUser(1, "alice"))
	assert.Equal(t, 1, adapter.disabledCount("alice"))
}

func TestCheckUserEnableTransition(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 1000, 100)
	user.DisabledPushed = true
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	// Лимит подняли или трафик сбросили: аккаунт включается обратно
	assert.Equal(t, 1, adapter.enabled["alice"])
	assert.False(t, user.DisabledPushed)
}

func TestCheckUserSanaeiMultiRemote(t *testing.T) {
	store := newMemStore()
	addUser(store, 1, "alice", 1000, 1000)
	addLink(store, 1, 1, "alice", panel.TypeSanaei, "a,b", 0)

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	// Отключаются все под-аккаунты привязки
	assert.Equal(t, 1, adapter.disabledCount("a"))
	assert.Equal(t, 1, adapter.disabledCount("b"))
}

func TestPushUserDisableFallbackToOwnerPanels(t *testing.T) {
	store := newMemStore()
	user := addUser(store, 1, "alice", 1000, 1000)
	store.ownerPanels[1] = []models.Panel{
		{ID: 1, PanelURL: "http://p.example", AccessToken: "tok", PanelType: panel.TypeMarzneshin},
	}

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckUser(1, "alice"))

	// Без привязок команда уходит на панели владельца с именем аккаунта
	assert.Equal(t, 1, adapter.disabledCount("alice"))
	assert.True(t, user.DisabledPushed)
}

func TestCheckAgentCascadeDisable(t *testing.T) {
	store := newMemStore()
	alice := addUser(store, 1, "alice", 0, 0)
	bob := addUser(store, 1, "bob", 0, 0)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)
	addLink(store, 2, 1, "bob", panel.TypeMarzneshin, "bob", 0)

	agent := &models.Agent{
		TelegramUserID: 1,
		Name:           "agent",
		Active:         true,
		PlanLimitBytes: 5000,
		TotalUsedBytes: 5000,
	}
	store.agents[1] = agent

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))

	// Исчерпание агента отключает все его аккаунты
	assert.Equal(t, 1, adapter.disabledCount("alice"))
	assert.Equal(t, 1, adapter.disabledCount("bob"))
	assert.True(t, alice.DisabledPushed)
	assert.True(t, bob.DisabledPushed)
	assert.True(t, agent.DisabledPushed)
}

func TestCheckAgentExpiryDisables(t *testing.T) {
	store := newMemStore()
	addUser(store, 1, "alice", 0, 0)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	past := time.Now().Add(-time.Minute)
	agent := &models.Agent{TelegramUserID: 1, Name: "agent", Active: true, ExpireAt: &past}
	store.agents[1] = agent

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))

	assert.Equal(t, 1, adapter.disabledCount("alice"))
	assert.True(t, agent.DisabledPushed)
}

func TestCheckAgentFallbackToAgentPanels(t *testing.T) {
	store := newMemStore()
	addUser(store, 1, "alice", 0, 0) // привязок нет
	store.agentPanels[1] = []models.Panel{
		{ID: 1, PanelURL: "http://p.example", AccessToken: "tok", PanelType: panel.TypeMarzneshin},
	}
	store.agents[1] = &models.Agent{
		TelegramUserID: 1,
		Name:           "agent",
		Active:         true,
		PlanLimitBytes: 100,
		TotalUsedBytes: 200,
	}

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))

	assert.Equal(t, 1, adapter.disabledCount("alice"))
}

func TestCheckAgentEnableTransition(t *testing.T) {
	store := newMemStore()
	alice := addUser(store, 1, "alice", 0, 0)
	alice.DisabledPushed = true
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)

	agent := &models.Agent{
		TelegramUserID: 1,
		Name:           "agent",
		Active:         true,
		PlanLimitBytes: 5000,
		TotalUsedBytes: 100,
		DisabledPushed: true,
	}
	store.agents[1] = agent

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))

	assert.Equal(t, 1, adapter.enabled["alice"])
	assert.False(t, alice.DisabledPushed)
	assert.False(t, agent.DisabledPushed)
}

func TestCheckAgentInactiveSkipped(t *testing.T) {
	store := newMemStore()
	addUser(store, 1, "alice", 0, 0)
	addLink(store, 1, 1, "alice", panel.TypeMarzneshin, "alice", 0)
	store.agents[1] = &models.Agent{
		TelegramUserID: 1,
		Name:           "agent",
		Active:         false,
		PlanLimitBytes: 100,
		TotalUsedBytes: 900,
	}

	adapter := newStubAdapter()
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))

	// Неактивные агенты не обрабатываются
	assert.Equal(t, 0, adapter.disabledCount("alice"))
}

func TestCheckAgentMissingAgentNoop(t *testing.T) {
	store := newMemStore()
	addUser(store, 1, "alice", 0, 0)

	adapter := newStubAdapter()
	// Владелец без записи агента (администратор) пропускается
	require.NoError(t, newEnforcer(store, adapter).CheckAgent(1))
	assert.Equal(t, 0, adapter.disabledCount("alice"))
}
