package models

import "time"

// Panel представляет внешнюю панель управления прокси-аккаунтами
type Panel struct {
	ID             int64     `db:"id" json:"id"`
	TelegramUserID int64     `db:"telegram_user_id" json:"telegram_user_id"`
	PanelURL       string    `db:"panel_url" json:"panel_url"`
	AccessToken    string    `db:"access_token" json:"-"`
	PanelType      string    `db:"panel_type" json:"panel_type"` // marzneshin, marzban, sanaei
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LocalUser представляет локальный аккаунт пользователя, независимый от панелей
type LocalUser struct {
	ID               int64      `db:"id" json:"id"`
	OwnerID          int64      `db:"owner_id" json:"owner_id"`
	Username         string     `db:"username" json:"username"`
	PlanLimitBytes   int64      `db:"plan_limit_bytes" json:"plan_limit_bytes"` // 0 = без лимита
	UsedBytes        int64      `db:"used_bytes" json:"used_bytes"`
	ExpireAt         *time.Time `db:"expire_at" json:"expire_at"`
	Note             string     `db:"note" json:"note"`
	DisabledPushed   bool       `db:"disabled_pushed" json:"disabled_pushed"`
	DisabledPushedAt *time.Time `db:"disabled_pushed_at" json:"disabled_pushed_at"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// OverQuota возвращает true, если лимит задан и израсходован
func (u *LocalUser) OverQuota() bool {
	return u.PlanLimitBytes > 0 && u.UsedBytes >= u.PlanLimitBytes
}

// Expired возвращает true, если срок действия аккаунта истек
func (u *LocalUser) Expired(now time.Time) bool {
	return u.ExpireAt != nil && !u.ExpireAt.After(now)
}

// Agent представляет агента (реселлера) со своим собственным лимитом и сроком
type Agent struct {
	ID               int64      `db:"id" json:"id"`
	TelegramUserID   int64      `db:"telegram_user_id" json:"telegram_user_id"`
	Name             string     `db:"name" json:"name"`
	PlanLimitBytes   int64      `db:"plan_limit_bytes" json:"plan_limit_bytes"` // 0 = без лимита
	ExpireAt         *time.Time `db:"expire_at" json:"expire_at"`
	Active           bool       `db:"active" json:"active"`
	UserLimit        int64      `db:"user_limit" json:"user_limit"`
	MaxUserBytes     int64      `db:"max_user_bytes" json:"max_user_bytes"`
	TotalUsedBytes   int64      `db:"total_used_bytes" json:"total_used_bytes"` // инкрементальная сумма used_bytes его пользователей
	DisabledPushed   bool       `db:"disabled_pushed" json:"disabled_pushed"`
	DisabledPushedAt *time.Time `db:"disabled_pushed_at" json:"disabled_pushed_at"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// OverQuota возвращает true, если агент израсходовал свой суммарный лимит
func (a *Agent) OverQuota() bool {
	return a.PlanLimitBytes > 0 && a.TotalUsedBytes >= a.PlanLimitBytes
}

// Expired возвращает true, если срок действия агента истек
func (a *Agent) Expired(now time.Time) bool {
	return a.ExpireAt != nil && !a.ExpireAt.After(now)
}

// AppUser представляет учетные данные подписки (имя + ключ приложения)
type AppUser struct {
	ID             int64     `db:"id" json:"id"`
	TelegramUserID int64     `db:"telegram_user_id" json:"telegram_user_id"`
	Username       string    `db:"username" json:"username"`
	AppKey         string    `db:"app_key" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PanelLink представляет привязку локального аккаунта к удаленному аккаунту на панели
type PanelLink struct {
	ID              int64     `db:"id" json:"id"`
	OwnerID         int64     `db:"owner_id" json:"owner_id"`
	LocalUsername   string    `db:"local_username" json:"local_username"`
	PanelID         int64     `db:"panel_id" json:"panel_id"`
	RemoteUsername  string    `db:"remote_username" json:"remote_username"` // для sanaei может быть списком через запятую
	LastUsedTraffic int64     `db:"last_used_traffic" json:"last_used_traffic"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// LinkRow представляет привязку вместе с данными панели (результат JOIN)
type LinkRow struct {
	LinkID          int64  `db:"link_id"`
	OwnerID         int64  `db:"owner_id"`
	LocalUsername   string `db:"local_username"`
	PanelID         int64  `db:"panel_id"`
	RemoteUsername  string `db:"remote_username"`
	LastUsedTraffic int64  `db:"last_used_traffic"`
	PanelURL        string `db:"panel_url"`
	AccessToken     string `db:"access_token"`
	PanelType       string `db:"panel_type"`
}

// DisabledConfig представляет отключенную по имени конфигурацию панели
type DisabledConfig struct {
	PanelID    int64  `db:"panel_id"`
	ConfigName string `db:"config_name"`
}

// DisabledNumber представляет отключенную по порядковому номеру конфигурацию панели
type DisabledNumber struct {
	PanelID     int64 `db:"panel_id"`
	ConfigIndex int   `db:"config_index"`
}
