package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Sanaei реализует адаптер панели MHSanaei/3x-ui (cookie-сессия).
// Панель не имеет эндпоинтов подписки и пер-аккаунтных операций:
// конфигурационная ссылка собирается из метаданных inbound и
// идентификатора клиента, а включение/отключение выполняется по схеме
// "прочитать весь inbound, заменить клиента в settings, записать inbound
// целиком". Конкурентные записи в один inbound могут перетереть друг
// друга; пер-элементной атомарности здесь нет.
type Sanaei struct {
	http *httpClient
}

func sanaeiHeaders(token string) map[string]string {
	return map[string]string{"accept": "application/json", "Cookie": token}
}

// listInbounds возвращает все inbound панели
func (s *Sanaei) listInbounds(panelURL, token string) ([]map[string]interface{}, *Error) {
	resp, herr := s.http.doJSON(http.MethodGet,
		joinURL(panelURL, "panel/api/inbounds/list"), sanaeiHeaders(token), nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	var obj struct {
		Obj      []map[string]interface{} `json:"obj"`
		Inbounds []map[string]interface{} `json:"inbounds"`
	}
	if err := json.Unmarshal(resp.body, &obj); err != nil {
		return nil, parseError(err)
	}
	if obj.Obj != nil {
		return obj.Obj, nil
	}
	return obj.Inbounds, nil
}

// settingsClients разбирает поле settings (JSON-строка) inbound и
// возвращает объект настроек вместе со списком клиентов
func settingsClients(inbound map[string]interface{}) (map[string]interface{}, []interface{}) {
	settingsObj := map[string]interface{}{}
	switch v := inbound["settings"].(type) {
	case string:
		if v != "" {
			_ = json.Unmarshal([]byte(v), &settingsObj)
		}
	case map[string]interface{}:
		settingsObj = v
	}
	clients, _ := settingsObj["clients"].([]interface{})
	return settingsObj, clients
}

// clientName возвращает идентификатор клиента в настройках inbound
func clientName(client map[string]interface{}) string {
	for _, key := range []string{"email", "Email", "username"} {
		if name := asString(client[key]); name != "" {
			return name
		}
	}
	return ""
}

// findClient ищет клиента по имени во всех inbound
func findClient(inbounds []map[string]interface{}, username string) (map[string]interface{}, map[string]interface{}) {
	for _, inbound := range inbounds {
		_, clients := settingsClients(inbound)
		for _, raw := range clients {
			client, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if clientName(client) == username {
				return inbound, client
			}
		}
	}
	return nil, nil
}

// GetUser возвращает состояние клиента: метаданные из inbound и счетчик
// трафика из getClientTraffics (used = up + down)
func (s *Sanaei) GetUser(panelURL, token, username string) (*Account, error) {
	inbounds, herr := s.listInbounds(panelURL, token)
	if herr != nil {
		return nil, herr
	}
	inbound, client := findClient(inbounds, username)
	if inbound == nil || client == nil {
		return nil, notFoundError("not found")
	}

	resp, herr := s.http.doJSON(http.MethodGet,
		joinURL(panelURL, "panel/api/inbounds/getClientTraffics/"+username),
		sanaeiHeaders(token), nil)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(resp.body, &data); err != nil {
		return nil, parseError(err)
	}
	obj, ok := data["obj"].(map[string]interface{})
	if !ok {
		obj = data
	}

	enabled := true
	if v, ok := obj["enable"].(bool); ok {
		enabled = v
	}

	exp := asInt64(obj["expiryTime"])
	if exp == 0 {
		exp = asInt64(obj["expiry_time"])
	}
	if exp == 0 {
		exp = asInt64(client["expiryTime"])
	}
	if exp == 0 {
		exp = asInt64(client["expiry_time"])
	}
	// Панель хранит срок в миллисекундах
	if exp > 1e12 {
		exp /= 1000
	}

	uuid := asString(client["id"])
	if uuid == "" {
		uuid = asString(client["uuid"])
	}

	return &Account{
		Username:    username,
		Enabled:     enabled,
		UsedTraffic: asInt64(obj["up"]) + asInt64(obj["down"]),
		UUID:        uuid,
		ExpireAt:    exp,
		Protocol:    asString(inbound["protocol"]),
		Port:        int(asInt64(inbound["port"])),
		Listen:      asString(inbound["listen"]),
		Remark:      asString(inbound["remark"]),
	}, nil
}

// CreateUser создает клиента; payload должен содержать inbound и объект
// клиента в форме, ожидаемой панелью
func (s *Sanaei) CreateUser(panelURL, token string, payload map[string]interface{}) (*Account, error) {
	resp, herr := s.http.doJSON(http.MethodPost,
		joinURL(panelURL, "panel/api/inbounds/addClient"), cookieHeaders(token), payload)
	if herr != nil {
		return nil, herr
	}
	if resp.status != http.StatusOK {
		return nil, httpError(resp.status, resp.body)
	}
	return &Account{Enabled: true}, nil
}

// EnableUser включает клиента
func (s *Sanaei) EnableUser(panelURL, token, username string) error {
	return s.setEnabled(panelURL, token, username, true)
}

// DisableUser отключает клиента
func (s *Sanaei) DisableUser(panelURL, token, username string) error {
	return s.setEnabled(panelURL, token, username, false)
}

// setEnabled читает inbound целиком, меняет флаг enable у клиента в
// settings и записывает inbound обратно
func (s *Sanaei) setEnabled(panelURL, token, username string, enabled bool) error {
	inbounds, herr := s.listInbounds(panelURL, token)
	if herr != nil {
		return herr
	}
	inbound, client := findClient(inbounds, username)
	if inbound == nil || client == nil {
		return notFoundError("not found")
	}

	client["enable"] = enabled

	settingsObj, clients := settingsClients(inbound)
	for i, raw := range clients {
		cl, ok := raw.(map[string]interface{})
		if ok && clientName(cl) == username {
			clients[i] = client
			break
		}
	}
	settingsObj["clients"] = clients
	settingsData, err := json.Marshal(settingsObj)
	if err != nil {
		return parseError(err)
	}
	inbound["settings"] = string(settingsData)

	resp, herr := s.http.doJSON(http.MethodPost,
		joinURL(panelURL, fmt.Sprintf("panel/api/inbound/update/%d", asInt64(inbound["id"]))),
		cookieHeaders(token), inbound)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// RemoveUser удаляет клиента из его inbound
func (s *Sanaei) RemoveUser(panelURL, token, username string) error {
	inbounds, herr := s.listInbounds(panelURL, token)
	if herr != nil {
		return herr
	}
	inbound, client := findClient(inbounds, username)
	if inbound == nil || client == nil {
		return notFoundError("not found")
	}
	uuid := asString(client["id"])
	if uuid == "" {
		uuid = asString(client["uuid"])
	}

	resp, herr := s.http.doJSON(http.MethodPost,
		joinURL(panelURL, fmt.Sprintf("panel/api/inbounds/%d/delClient/%s", asInt64(inbound["id"]), uuid)),
		cookieHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// ResetUserUsage обнуляет счетчик трафика клиента
func (s *Sanaei) ResetUserUsage(panelURL, token, username string) error {
	inbounds, herr := s.listInbounds(panelURL, token)
	if herr != nil {
		return herr
	}
	inbound, client := findClient(inbounds, username)
	if inbound == nil || client == nil {
		return notFoundError("not found")
	}

	resp, herr := s.http.doJSON(http.MethodPost,
		joinURL(panelURL, fmt.Sprintf("panel/api/inbounds/%d/resetClientTraffic/%s", asInt64(inbound["id"]), username)),
		cookieHeaders(token), nil)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// UpdateUser обновляет лимит (байты) и/или срок действия клиента
func (s *Sanaei) UpdateUser(panelURL, token, username string, dataLimit *int64, expireAt *int64) error {
	inbounds, herr := s.listInbounds(panelURL, token)
	if herr != nil {
		return herr
	}
	inbound, client := findClient(inbounds, username)
	if inbound == nil || client == nil {
		return notFoundError("not found")
	}

	if dataLimit != nil {
		client["totalGB"] = *dataLimit
	}
	if expireAt != nil {
		client["expiryTime"] = *expireAt * 1000
	}

	settingsData, err := json.Marshal(map[string]interface{}{"clients": []interface{}{client}})
	if err != nil {
		return parseError(err)
	}
	payload := map[string]interface{}{
		"id":       asInt64(inbound["id"]),
		"settings": string(settingsData),
	}

	uuid := asString(client["id"])
	if uuid == "" {
		uuid = asString(client["uuid"])
	}
	resp, herr := s.http.doJSON(http.MethodPost,
		joinURL(panelURL, "panel/api/inbounds/updateClient/"+uuid),
		cookieHeaders(token), payload)
	if herr != nil {
		return herr
	}
	if resp.status != http.StatusOK {
		return httpError(resp.status, resp.body)
	}
	return nil
}

// FetchLinks собирает единственную конфигурационную ссылку из метаданных
// inbound и идентификатора клиента; параметр key не используется
func (s *Sanaei) FetchLinks(panelURL, token, username, key string) ([]string, error) {
	acc, err := s.GetUser(panelURL, token, username)
	if err != nil {
		return nil, err
	}

	host := acc.Listen
	if host == "" {
		if u, uerr := url.Parse(panelURL); uerr == nil {
			host = u.Hostname()
		}
	}
	protocol := acc.Protocol
	if protocol == "" {
		protocol = "vless"
	}
	name := acc.Remark
	if name == "" {
		name = username
	}
	if host == "" || acc.Port == 0 || acc.UUID == "" {
		return nil, &Error{Kind: KindMalformed, Msg: "incomplete config"}
	}

	link := fmt.Sprintf("%s://%s@%s:%d?security=none#%s", protocol, acc.UUID, host, acc.Port, name)
	if !AllowedScheme(link) {
		link = fmt.Sprintf("vless://%s@%s:%d?security=none#%s", acc.UUID, host, acc.Port, name)
	}
	return []string{link}, nil
}

// AdminToken обменивает логин и пароль на cookie сессии
func (s *Sanaei) AdminToken(panelURL, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, herr := s.http.doForm(http.MethodPost, joinURL(panelURL, "login"), nil, form)
	if herr != nil {
		return "", herr
	}
	if resp.status != http.StatusOK {
		return "", httpError(resp.status, resp.body)
	}

	// Предпочитаем известные имена cookie, иначе берем первую выданную
	var fallback *http.Cookie
	for _, cookie := range resp.cookies {
		switch cookie.Name {
		case "3x-ui":
			return cookie.Name + "=" + cookie.Value, nil
		case "session":
			if fallback == nil || fallback.Name != "3x-ui" {
				fallback = cookie
			}
		default:
			if fallback == nil {
				fallback = cookie
			}
		}
	}
	if fallback != nil {
		return fallback.Name + "=" + fallback.Value, nil
	}
	return "", &Error{Kind: KindMalformed, Msg: "no session cookie"}
}

// asString приводит значение из разобранного JSON к строке
func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asInt64 приводит числовое значение из разобранного JSON к int64
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
