package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sanaeiServer поднимает минимальную имитацию панели 3x-ui с одним
// inbound и одним клиентом
func sanaeiServer(t *testing.T, updates *[]map[string]interface{}) *httptest.Server {
	t.Helper()

	settings, err := json.Marshal(map[string]interface{}{
		"clients": []interface{}{
			map[string]interface{}{"id": "uuid-1", "email": "alice", "enable": true},
		},
	})
	require.NoError(t, err)

	inbound := map[string]interface{}{
		"id":       float64(7),
		"protocol": "vless",
		"port":     float64(443),
		"listen":   "",
		"remark":   "cfg",
		"settings": string(settings),
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok=abc", r.Header.Get("Cookie"))
		switch r.URL.Path {
		case "/panel/api/inbounds/list":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"obj":     []interface{}{inbound},
			})
		case "/panel/api/inbounds/getClientTraffics/alice":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"obj": map[string]interface{}{
					"up": 100, "down": 200, "enable": true, "expiryTime": 0,
				},
			})
		case "/panel/api/inbound/update/7":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if updates != nil {
				*updates = append(*updates, body)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestSanaeiGetUser(t *testing.T) {
	srv := sanaeiServer(t, nil)
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	acc, err := s.GetUser(srv.URL, "tok=abc", "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(300), acc.UsedTraffic)
	assert.True(t, acc.Enabled)
	assert.Equal(t, "uuid-1", acc.UUID)
	assert.Equal(t, "vless", acc.Protocol)
	assert.Equal(t, 443, acc.Port)
	assert.Equal(t, "cfg", acc.Remark)
}

func TestSanaeiGetUserNotFound(t *testing.T) {
	srv := sanaeiServer(t, nil)
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	_, err := s.GetUser(srv.URL, "tok=abc", "ghost")
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindNotFound, perr.Kind)
}

func TestSanaeiDisableUser(t *testing.T) {
	var updates []map[string]interface{}
	srv := sanaeiServer(t, &updates)
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	require.NoError(t, s.DisableUser(srv.URL, "tok=abc", "alice"))

	// Inbound записывается целиком, клиент в settings выключен
	require.Len(t, updates, 1)
	settings, ok := updates[0]["settings"].(string)
	require.True(t, ok)

	var parsed struct {
		Clients []map[string]interface{} `json:"clients"`
	}
	require.NoError(t, json.Unmarshal([]byte(settings), &parsed))
	require.Len(t, parsed.Clients, 1)
	assert.Equal(t, false, parsed.Clients[0]["enable"])
	assert.Equal(t, "alice", parsed.Clients[0]["email"])
}

func TestSanaeiFetchLinks(t *testing.T) {
	srv := sanaeiServer(t, nil)
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	links, err := s.FetchLinks(srv.URL, "tok=abc", "alice", "")
	require.NoError(t, err)
	require.Len(t, links, 1)

	// Хост берется из адреса панели, когда listen у inbound пуст
	u, uerr := url.Parse(srv.URL)
	require.NoError(t, uerr)
	assert.Equal(t, fmt.Sprintf("vless://uuid-1@%s:443?security=none#cfg", u.Hostname()), links[0])
}

func TestSanaeiAdminToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "admin", r.PostForm.Get("username"))

		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "sess42"})
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	token, err := s.AdminToken(srv.URL, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "3x-ui=sess42", token)
}

func TestSanaeiAdminTokenFallbackCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "legacy"})
	}))
	defer srv.Close()

	s := &Sanaei{http: testClient()}
	token, err := s.AdminToken(srv.URL, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "session=legacy", token)
}
