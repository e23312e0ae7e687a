// Package panel содержит адаптеры к внешним панелям управления
// прокси-аккаунтами. Все вызовы выполняются по HTTP с фиксированным
// таймаутом; сетевые сбои, не-2xx ответы и ошибки разбора нормализуются
// в значение *Error с коротким диагностическим сообщением и никогда не
// приводят к панике за границей пакета.
package panel

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Типы поддерживаемых панелей
const (
	TypeMarzneshin = "marzneshin"
	TypeMarzban    = "marzban"
	TypeSanaei     = "sanaei"
)

// ErrorKind классифицирует ошибку обращения к панели
type ErrorKind int

const (
	// KindTransient — временный сбой (таймаут, обрыв соединения, 5xx)
	KindTransient ErrorKind = iota
	// KindAuth — отказ в авторизации (401/403)
	KindAuth
	// KindNotFound — аккаунт или ресурс не найден
	KindNotFound
	// KindMalformed — некорректный запрос или неразбираемый ответ
	KindMalformed
)

// Error представляет нормализованную ошибку вызова панели
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// httpError строит ошибку из статуса и тела ответа: "<код> <обрезанное тело>"
func httpError(status int, body []byte) *Error {
	kind := KindTransient
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status >= 400 && status < 500:
		kind = KindMalformed
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf("%d %s", status, truncate(strings.TrimSpace(string(body)), 200))}
}

// netError строит ошибку из сетевого сбоя
func netError(err error) *Error {
	return &Error{Kind: KindTransient, Msg: truncate(err.Error(), 200)}
}

// parseError строит ошибку из сбоя разбора ответа
func parseError(err error) *Error {
	return &Error{Kind: KindMalformed, Msg: truncate(err.Error(), 200)}
}

func notFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Account представляет нормализованное состояние удаленного аккаунта
type Account struct {
	Username    string
	Enabled     bool
	UsedTraffic int64  // накопительный счетчик в байтах
	Key         string // токен подписки (marzban/marzneshin)
	UUID        string // идентификатор клиента (sanaei)
	ExpireAt    int64  // unix-секунды, 0 если срок не задан

	// Метаданные inbound для панелей без эндпоинтов подписки
	Protocol string
	Port     int
	Listen   string
	Remark   string
}

// Adapter описывает минимальный контракт панели. Реализации не бросают
// паник и не возвращают ошибок иного типа, кроме *Error.
type Adapter interface {
	// GetUser возвращает состояние удаленного аккаунта
	GetUser(panelURL, token, username string) (*Account, error)
	// CreateUser создает аккаунт; форма payload зависит от типа панели
	CreateUser(panelURL, token string, payload map[string]interface{}) (*Account, error)
	// EnableUser включает аккаунт
	EnableUser(panelURL, token, username string) error
	// DisableUser отключает аккаунт
	DisableUser(panelURL, token, username string) error
	// RemoveUser удаляет аккаунт
	RemoveUser(panelURL, token, username string) error
	// ResetUserUsage обнуляет счетчик трафика аккаунта
	ResetUserUsage(panelURL, token, username string) error
	// UpdateUser обновляет лимит (байты) и/или срок действия (unix-секунды)
	UpdateUser(panelURL, token, username string, dataLimit *int64, expireAt *int64) error
	// FetchLinks возвращает список конфигурационных ссылок аккаунта
	FetchLinks(panelURL, token, username, key string) ([]string, error)
	// AdminToken обменивает учетные данные администратора на токен доступа
	AdminToken(panelURL, username, password string) (string, error)
}

// Dispatcher выбирает адаптер по типу панели
type Dispatcher interface {
	ForType(panelType string) Adapter
}

// Registry содержит по одному адаптеру каждого типа, построенных над общим
// HTTP-клиентом с фиксированным таймаутом
type Registry struct {
	marzneshin *Marzneshin
	marzban    *Marzban
	sanaei     *Sanaei
}

// NewRegistry создает набор адаптеров с общим HTTP-клиентом
func NewRegistry(timeout time.Duration) *Registry {
	client := &httpClient{c: &http.Client{Timeout: timeout}}
	return &Registry{
		marzneshin: &Marzneshin{http: client},
		marzban:    &Marzban{http: client},
		sanaei:     &Sanaei{http: client},
	}
}

// ForType возвращает адаптер для типа панели. Неизвестный тип трактуется
// как marzneshin.
func (r *Registry) ForType(panelType string) Adapter {
	switch panelType {
	case TypeMarzban:
		return r.marzban
	case TypeSanaei:
		return r.sanaei
	default:
		return r.marzneshin
	}
}

// RemoteNames разбирает поле remote_username привязки. Только для sanaei
// оно может содержать несколько под-аккаунтов через запятую.
func RemoteNames(panelType, remoteUsername string) []string {
	if panelType != TypeSanaei {
		return []string{remoteUsername}
	}
	var names []string
	for _, part := range strings.Split(remoteUsername, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// allowedSchemes — распознаваемые схемы конфигурационных ссылок
var allowedSchemes = []string{"vless://", "vmess://", "trojan://", "ss://"}

// AllowedScheme сообщает, начинается ли строка с распознаваемой схемы
func AllowedScheme(s string) bool {
	ls := strings.ToLower(s)
	for _, prefix := range allowedSchemes {
		if strings.HasPrefix(ls, prefix) {
			return true
		}
	}
	return false
}

// joinURL присоединяет путь к базовому адресу панели
func joinURL(panelURL, path string) string {
	return strings.TrimRight(panelURL, "/") + "/" + strings.TrimLeft(path, "/")
}
