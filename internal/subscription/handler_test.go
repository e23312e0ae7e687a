package subscription

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

const (
	testLimitConfig  = "vless://limitreached@info.info:80?encryption=none&security=none&type=tcp&headerType=none"
	testLimitMessage = "User {username} has reached data limit ({used} / {limit})"
)

type fakeStore struct {
	ownerID int64
	user    *models.LocalUser
	agent   *models.Agent
	links   []models.LinkRow
	panels  []models.Panel
	configs []models.DisabledConfig
	numbers []models.DisabledNumber
}

func (s *fakeStore) GetOwnerID(appUsername, appKey string) (int64, error) {
	if appKey == "goodkey" {
		return s.ownerID, nil
	}
	return 0, nil
}

func (s *fakeStore) GetLocalUser(ownerID int64, username string) (*models.LocalUser, error) {
	if s.user != nil && s.user.Username == username {
		return s.user, nil
	}
	return nil, nil
}

func (s *fakeStore) GetAgent(ownerID int64) (*models.Agent, error) { return s.agent, nil }

func (s *fakeStore) ListUserLinks(ownerID int64, username string) ([]models.LinkRow, error) {
	return s.links, nil
}

func (s *fakeStore) ListOwnerPanels(ownerID int64) ([]models.Panel, error) { return s.panels, nil }

func (s *fakeStore) ListDisabledConfigs(panelIDs []int64) ([]models.DisabledConfig, error) {
	return s.configs, nil
}

func (s *fakeStore) ListDisabledNumbers(panelIDs []int64) ([]models.DisabledNumber, error) {
	return s.numbers, nil
}

type fakeEnforcer struct {
	userCalls  int
	agentCalls int
}

func (e *fakeEnforcer) PushUserDisable(ownerID int64, username string) error {
	e.userCalls++
	return nil
}

func (e *fakeEnforcer) PushAgentDisable(ownerID int64) error {
	e.agentCalls++
	return nil
}

func newTestServer(store *fakeStore, enforcer *fakeEnforcer, adapter *fakeAdapter) *httptest.Server {
	agg := NewAggregator(&fakeDispatcher{adapter: adapter}, 4, time.Minute)
	h := NewHandler(store, enforcer, agg, testLimitConfig, testLimitMessage)

	r := mux.NewRouter()
	h.Register(r)
	return httptest.NewServer(r)
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func activeUser() *models.LocalUser {
	return &models.LocalUser{
		OwnerID:        1,
		Username:       "alice",
		PlanLimitBytes: 1000,
		UsedBytes:      100,
	}
}

func aliceAdapter() *fakeAdapter {
	return &fakeAdapter{
		accounts: map[string]*panel.Account{
			"alice": {Username: "alice", Key: "ka"},
		},
		links: map[string][]string{
			"alice": {"vless://a#A", "vmess://b#B"},
		},
	}
}

func TestHandlerUnknownCredentials(t *testing.T) {
	srv := newTestServer(&fakeStore{ownerID: 1, user: activeUser()}, &fakeEnforcer{}, aliceAdapter())
	defer srv.Close()

	resp, _ := get(t, srv, "/sub/alice/badkey/links")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerMissingLocalUser(t *testing.T) {
	srv := newTestServer(&fakeStore{ownerID: 1}, &fakeEnforcer{}, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestHandlerServesLinks(t *testing.T) {
	store := &fakeStore{
		ownerID: 1,
		user:    activeUser(),
		links: []models.LinkRow{
			linkRow(1, panel.TypeMarzneshin, "alice"),
		},
	}
	srv := newTestServer(store, &fakeEnforcer{}, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "vless://a#A\nvmess://b#B", body)

	assert.Equal(t, "1000", resp.Header.Get("X-Plan-Limit-Bytes"))
	assert.Equal(t, "100", resp.Header.Get("X-Used-Bytes"))
	assert.Equal(t, "900", resp.Header.Get("X-Remaining-Bytes"))
	assert.Equal(t, "0", resp.Header.Get("X-Disabled-Pushed"))
}

func TestHandlerUnlimitedUser(t *testing.T) {
	user := activeUser()
	user.PlanLimitBytes = 0
	store := &fakeStore{
		ownerID: 1,
		user:    user,
		links:   []models.LinkRow{linkRow(1, panel.TypeMarzneshin, "alice")},
	}
	srv := newTestServer(store, &fakeEnforcer{}, aliceAdapter())
	defer srv.Close()

	resp, _ := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, "unlimited", resp.Header.Get("X-Remaining-Bytes"))
}

func TestHandlerFallbackToOwnerPanels(t *testing.T) {
	// Привязок нет: опрашиваются все панели владельца с именем аккаунта
	store := &fakeStore{
		ownerID: 1,
		user:    activeUser(),
		panels: []models.Panel{
			{ID: 1, PanelURL: "http://p.example", AccessToken: "tok", PanelType: panel.TypeMarzneshin},
		},
	}
	srv := newTestServer(store, &fakeEnforcer{}, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "vless://a#A\nvmess://b#B", body)
}

func TestHandlerUserGate(t *testing.T) {
	user := activeUser()
	user.UsedBytes = 1000 // лимит исчерпан ровно в ноль остатка

	enforcer := &fakeEnforcer{}
	store := &fakeStore{ownerID: 1, user: user}
	srv := newTestServer(store, enforcer, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Вместо рабочих ссылок отдается заглушка с сообщением
	assert.True(t, strings.HasPrefix(body, testLimitConfig+"#"), "body: %s", body)
	assert.Contains(t, body, "alice")

	assert.Equal(t, "0", resp.Header.Get("X-Remaining-Bytes"))
	assert.Equal(t, "1", resp.Header.Get("X-Disabled-Pushed"))

	// Отключение протолкнуто немедленно, не дожидаясь фонового цикла
	assert.Equal(t, 1, enforcer.userCalls)
	assert.Equal(t, 0, enforcer.agentCalls)
}

func TestHandlerUserGateAlreadyPushed(t *testing.T) {
	user := activeUser()
	user.UsedBytes = 2000
	user.DisabledPushed = true

	enforcer := &fakeEnforcer{}
	srv := newTestServer(&fakeStore{ownerID: 1, user: user}, enforcer, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.True(t, strings.HasPrefix(body, testLimitConfig+"#"))
	assert.Equal(t, "0", resp.Header.Get("X-Remaining-Bytes"))

	// Повторное проталкивание не выполняется
	assert.Equal(t, 0, enforcer.userCalls)
}

func TestHandlerExpiredUserGate(t *testing.T) {
	user := activeUser()
	past := time.Now().Add(-time.Hour)
	user.ExpireAt = &past

	enforcer := &fakeEnforcer{}
	srv := newTestServer(&fakeStore{ownerID: 1, user: user}, enforcer, aliceAdapter())
	defer srv.Close()

	_, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.True(t, strings.HasPrefix(body, testLimitConfig+"#"))
	assert.Equal(t, 1, enforcer.userCalls)
}

func TestHandlerAgentGate(t *testing.T) {
	agent := &models.Agent{
		TelegramUserID: 1,
		Name:           "agent",
		PlanLimitBytes: 5000,
		TotalUsedBytes: 5000,
		Active:         true,
	}
	enforcer := &fakeEnforcer{}
	store := &fakeStore{
		ownerID: 1,
		user:    activeUser(),
		agent:   agent,
		links:   []models.LinkRow{linkRow(1, panel.TypeMarzneshin, "alice")},
	}
	srv := newTestServer(store, enforcer, aliceAdapter())
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Барьер агента: подписка пуста даже при живом аккаунте
	assert.Empty(t, body)
	assert.Equal(t, "1", resp.Header.Get("X-Disabled-Pushed"))
	assert.Equal(t, 1, enforcer.agentCalls)
	assert.Equal(t, 0, enforcer.userCalls)
}

func TestHandlerInactiveAgentIgnored(t *testing.T) {
	agent := &models.Agent{
		TelegramUserID: 1,
		PlanLimitBytes: 5000,
		TotalUsedBytes: 9000,
		Active:         false,
	}
	enforcer := &fakeEnforcer{}
	store := &fakeStore{
		ownerID: 1,
		user:    activeUser(),
		agent:   agent,
		links:   []models.LinkRow{linkRow(1, panel.TypeMarzneshin, "alice")},
	}
	srv := newTestServer(store, enforcer, aliceAdapter())
	defer srv.Close()

	_, body := get(t, srv, "/sub/alice/goodkey/links")

	// Неактивный агент не блокирует выдачу
	assert.Equal(t, "vless://a#A\nvmess://b#B", body)
	assert.Equal(t, 0, enforcer.agentCalls)
}

func TestHandlerErrorComments(t *testing.T) {
	adapter := &fakeAdapter{
		errs: map[string]error{
			"alice": &panel.Error{Kind: panel.KindTransient, Msg: "timeout"},
		},
	}
	store := &fakeStore{
		ownerID: 1,
		user:    activeUser(),
		links:   []models.LinkRow{linkRow(1, panel.TypeMarzneshin, "alice")},
	}
	srv := newTestServer(store, &fakeEnforcer{}, adapter)
	defer srv.Close()

	resp, body := get(t, srv, "/sub/alice/goodkey/links")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Пустая подписка при сбоях содержит диагностические комментарии
	require.NotEmpty(t, body)
	for _, line := range strings.Split(body, "\n") {
		assert.True(t, strings.HasPrefix(line, "# "), "line: %s", line)
	}
	assert.Contains(t, body, "timeout")
}
