package panel

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Marzneshin реализует адаптер панели Marzneshin (bearer-токен,
// эндпоинты /api/users/...)
type Marzneshin struct {
	http *httpClient
}

type marzneshinUser struct {
	Username    string `json:"username"`
	Enabled     *bool  `json:"enabled"`
	UsedTraffic int64  `json:"used_traffic"`
	Key         string `json:"key"`
	ExpireDate  string `json:"expire_date"`
}

// GetUser возвращает состояние аккаунта
func (m *Marzneshin) GetUser(panelURL, token, username string) (*Account, error) {
	resp, herr := m.http.doJSON(http.MethodGet,
		joinURL(panelURL, "api/users/"+username), bearerHeaders(token), nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	var obj marzneshinUser
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return nil, parseError(err)
	}

	acc := &Account{
		Username:    obj.Username,
		Enabled:     obj.Enabled == nil || *obj.Enabled,
		UsedTraffic: obj.UsedTraffic,
		Key:         obj.Key,
	}
	if obj.ExpireDate != "" {
		if ts, err := time.Parse(time.RFC3339, obj.ExpireDate); err == nil {
			acc.ExpireAt = ts.Unix()
		}
	}
	if acc.Username == "" {
		acc.Username = username
	}
	return acc, nil
}

// CreateUser создает аккаунт на панели
func (m *Marzneshin) CreateUser(panelURL, token string, payload map[string]interface{}) (*Account, error) {
	resp, herr := m.http.doJSON(http.MethodPost,
		joinURL(panelURL, "api/users"), bearerHeaders(token), payload)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	var obj marzneshinUser
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return nil, parseError(err)
	}
	return &Account{
		Username:    obj.Username,
		Enabled:     obj.Enabled == nil || *obj.Enabled,
		UsedTraffic: obj.UsedTraffic,
		Key:         obj.Key,
	}, nil
}

// EnableUser включает аккаунт
func (m *Marzneshin) EnableUser(panelURL, token, username string) error {
	return m.toggle(panelURL, token, username, "enable")
}

// DisableUser отключает аккаунт
func (m *Marzneshin) DisableUser(panelURL, token, username string) error {
	return m.toggle(panelURL, token, username, "disable")
}

func (m *Marzneshin) toggle(panelURL, token, username, action string) error {
	resp, herr := m.http.doJSON(http.MethodPost,
		joinURL(panelURL, "api/users/"+username+"/"+action), bearerHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// RemoveUser удаляет аккаунт
func (m *Marzneshin) RemoveUser(panelURL, token, username string) error {
	resp, herr := m.http.doJSON(http.MethodDelete,
		joinURL(panelURL, "api/users/"+username), bearerHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// ResetUserUsage обнуляет счетчик трафика аккаунта
func (m *Marzneshin) ResetUserUsage(panelURL, token, username string) error {
	resp, herr := m.http.doJSON(http.MethodPost,
		joinURL(panelURL, "api/users/"+username+"/reset"), bearerHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// UpdateUser обновляет лимит и/или срок действия аккаунта
func (m *Marzneshin) UpdateUser(panelURL, token, username string, dataLimit *int64, expireAt *int64) error {
	payload := map[string]interface{}{"username": username}
	if dataLimit != nil {
		payload["data_limit"] = *dataLimit
		payload["data_limit_reset_strategy"] = "no_reset"
	}
	if expireAt != nil {
		payload["expire_strategy"] = "fixed_date"
		payload["expire_date"] = time.Unix(*expireAt, 0).UTC().Format("2006-01-02T15:04:05Z")
	}
	if len(payload) == 1 {
		return nil
	}

	resp, herr := m.http.doJSON(http.MethodPut,
		joinURL(panelURL, "api/users/"+username), bearerHeaders(token), payload)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// FetchLinks возвращает конфигурационные ссылки аккаунта по его ключу подписки
func (m *Marzneshin) FetchLinks(panelURL, token, username, key string) ([]string, error) {
	resp, herr := m.http.doJSON(http.MethodGet,
		joinURL(panelURL, "sub/"+username+"/"+key+"/links"),
		map[string]string{"accept": "application/json"}, nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	if strings.HasPrefix(resp.header.Get("Content-Type"), "application/json") {
		if links, ok := parseLinksJSON(resp.body); ok {
			return links, nil
		}
	}

	// Текстовый ответ может содержать служебные строки, они не являются
	// конфигурациями и не должны смещать порядковые номера
	var links []string
	for _, line := range nonBlankLines(string(resp.body)) {
		if AllowedScheme(line) {
			links = append(links, line)
		}
	}
	return links, nil
}

// AdminToken обменивает учетные данные администратора на bearer-токен
func (m *Marzneshin) AdminToken(panelURL, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", "password")

	resp, herr := m.http.doForm(http.MethodPost,
		joinURL(panelURL, "api/admins/token"), nil, form)
	if herr != nil {
		return "", herr
	}
	if resp.status != http.StatusOK {
		return "", httpError(resp.status, resp.body)
	}

	var obj struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return "", parseError(err)
	}
	if obj.AccessToken == "" {
		return "", &Error{Kind: KindMalformed, Msg: "no access_token"}
	}
	return obj.AccessToken, nil
}

// parseLinksJSON разбирает JSON-ответ со ссылками: либо массив строк,
// либо объект с полем "links"
func parseLinksJSON(body []byte) ([]string, bool) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []interface{}:
		links := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				links = append(links, s)
			}
		}
		return links, true
	case map[string]interface{}:
		items, ok := v["links"].([]interface{})
		if !ok {
			return nil, false
		}
		links := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				links = append(links, s)
			}
		}
		return links, true
	}
	return nil, false
}

// nonBlankLines возвращает непустые строки текста
func nonBlankLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
