package panel

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Marzban реализует адаптер панели Marzban (bearer-токен, эндпоинты
// /api/user/...). Интерфейс совпадает с Marzneshin, но пути и формы
// запросов отличаются.
type Marzban struct {
	http *httpClient
}

type marzbanUser struct {
	Username        string `json:"username"`
	Status          string `json:"status"`
	UsedTraffic     int64  `json:"used_traffic"`
	SubscriptionURL string `json:"subscription_url"`
	Expire          int64  `json:"expire"`
}

func (u *marzbanUser) toAccount() *Account {
	acc := &Account{
		Username:    u.Username,
		Enabled:     u.Status != "disabled",
		UsedTraffic: u.UsedTraffic,
		ExpireAt:    u.Expire,
	}
	// Ключ подписки — последний сегмент пути subscription_url
	sub := strings.TrimRight(u.SubscriptionURL, "/")
	if i := strings.LastIndex(sub, "/"); i >= 0 && i+1 < len(sub) {
		acc.Key = sub[i+1:]
	}
	return acc
}

// GetUser возвращает состояние аккаунта
func (m *Marzban) GetUser(panelURL, token, username string) (*Account, error) {
	resp, herr := m.http.doJSON(http.MethodGet,
		joinURL(panelURL, "api/user/"+username), bearerHeaders(token), nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	var obj marzbanUser
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return nil, parseError(err)
	}
	acc := obj.toAccount()
	if acc.Username == "" {
		acc.Username = username
	}
	return acc, nil
}

// CreateUser создает аккаунт на панели
func (m *Marzban) CreateUser(panelURL, token string, payload map[string]interface{}) (*Account, error) {
	resp, herr := m.http.doJSON(http.MethodPost,
		joinURL(panelURL, "api/user"), bearerHeaders(token), payload)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return nil, httpError(resp.status, resp.body)
	}

	var obj marzbanUser
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return nil, parseError(err)
	}
	return obj.toAccount(), nil
}

// EnableUser включает аккаунт
func (m *Marzban) EnableUser(panelURL, token, username string) error {
	return m.setStatus(panelURL, token, username, "active")
}

// DisableUser отключает аккаунт
func (m *Marzban) DisableUser(panelURL, token, username string) error {
	return m.setStatus(panelURL, token, username, "disabled")
}

func (m *Marzban) setStatus(panelURL, token, username, status string) error {
	resp, herr := m.http.doJSON(http.MethodPut,
		joinURL(panelURL, "api/user/"+username), bearerHeaders(token),
		map[string]interface{}{"status": status})
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// RemoveUser удаляет аккаунт
func (m *Marzban) RemoveUser(panelURL, token, username string) error {
	resp, herr := m.http.doJSON(http.MethodDelete,
		joinURL(panelURL, "api/user/"+username), bearerHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// ResetUserUsage обнуляет счетчик трафика аккаунта
func (m *Marzban) ResetUserUsage(panelURL, token, username string) error {
	resp, herr := m.http.doJSON(http.MethodPost,
		joinURL(panelURL, "api/user/"+username+"/reset"), bearerHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// UpdateUser обновляет лимит и/или срок действия аккаунта
func (m *Marzban) UpdateUser(panelURL, token, username string, dataLimit *int64, expireAt *int64) error {
	payload := map[string]interface{}{}
	if dataLimit != nil {
		payload["data_limit"] = *dataLimit
		payload["data_limit_reset_strategy"] = "no_reset"
	}
	if expireAt != nil {
		payload["expire"] = *expireAt
	}
	if len(payload) == 0 {
		return nil
	}

	resp, herr := m.http.doJSON(http.MethodPut,
		joinURL(panelURL, "api/user/"+username), bearerHeaders(token), payload)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// FetchLinks возвращает конфигурационные ссылки аккаунта. Новые версии
// Marzban отдают base64-блоб на /v2ray, старые — plain text на sub/<key>/;
// сначала пробуем новый эндпоинт, затем откатываемся на старый.
func (m *Marzban) FetchLinks(panelURL, token, username, key string) ([]string, error) {
	var errParts []string

	resp, herr := m.http.doJSON(http.MethodGet,
		joinURL(panelURL, "sub/"+key+"/v2ray"),
		map[string]string{"accept": "text/plain"}, nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status == http.StatusOK {
		text := strings.TrimSpace(string(resp.body))
		if text != "" {
			if decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "=")); err == nil {
				text = string(decoded)
			}
			lines := nonBlankLines(text)
			for _, line := range lines {
				if AllowedScheme(line) {
					return lines, nil
				}
			}
			errParts = append(errParts, "v2ray empty")
		}
	} else {
		errParts = append(errParts, "v2ray "+httpError(resp.status, nil).Msg)
	}

	// Откат на старый plain-text эндпоинт
	resp, herr = m.http.doJSON(http.MethodGet,
		joinURL(panelURL, "sub/"+key+"/"),
		map[string]string{"accept": "application/json,text/plain"}, nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		errParts = append(errParts, "links "+httpError(resp.status, nil).Msg)
		return nil, &Error{Kind: KindTransient, Msg: strings.Join(errParts, "; ")}
	}

	if strings.HasPrefix(resp.header.Get("Content-Type"), "application/json") {
		if links, ok := parseLinksJSON(resp.body); ok {
			return links, nil
		}
	}

	var lines []string
	for _, line := range nonBlankLines(string(resp.body)) {
		if AllowedScheme(line) {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		errParts = append(errParts, "links empty")
		return nil, &Error{Kind: KindMalformed, Msg: strings.Join(errParts, "; ")}
	}
	return lines, nil
}

// AdminToken обменивает учетные данные администратора на bearer-токен
func (m *Marzban) AdminToken(panelURL, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", "password")

	resp, herr := m.http.doForm(http.MethodPost,
		joinURL(panelURL, "api/admin/token"), nil, form)
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
