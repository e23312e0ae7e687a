package subscription

import (
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ilokitv/botPanel/internal/models"
)

// Store описывает операции хранилища, нужные шлюзу подписок
type Store interface {
	GetOwnerID(appUsername, appKey string) (int64, error)
	GetLocalUser(ownerID int64, username string) (*models.LocalUser, error)
	GetAgent(ownerID int64) (*models.Agent, error)
	ListUserLinks(ownerID int64, username string) ([]models.LinkRow, error)
	ListOwnerPanels(ownerID int64) ([]models.Panel, error)
	ListDisabledConfigs(panelIDs []int64) ([]models.DisabledConfig, error)
	ListDisabledNumbers(panelIDs []int64) ([]models.DisabledNumber, error)
}

// Enforcer описывает отложенное применение лимитов из шлюза: если
// превышение замечено на чтении раньше, чем его обработал фоновый цикл,
// отключение проталкивается немедленно
type Enforcer interface {
	PushUserDisable(ownerID int64, username string) error
	PushAgentDisable(ownerID int64) error
}

// Handler — HTTP-шлюз подписок. Отдает объединенный список ссылок и
// барьером закрывает выдачу при исчерпании лимита аккаунта или агента.
type Handler struct {
	store        Store
	enforcer     Enforcer
	agg          *Aggregator
	limitConfig  string
	limitMessage string
}

// NewHandler создает шлюз подписок
func NewHandler(store Store, enforcer Enforcer, agg *Aggregator, limitConfig, limitMessage string) *Handler {
	return &Handler{
		store:        store,
		enforcer:     enforcer,
		agg:          agg,
		limitConfig:  limitConfig,
		limitMessage: limitMessage,
	}
}

// Register регистрирует маршруты шлюза
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sub/{username}/{key}/links", h.handleLinks).Methods(http.MethodGet)
}

func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	username, key := vars["username"], vars["key"]

	ownerID, err := h.store.GetOwnerID(username, key)
	if err != nil {
		log.Printf("Ошибка поиска владельца подписки %s: %v", username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ownerID == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	user, err := h.store.GetLocalUser(ownerID, username)
	if err != nil {
		log.Printf("Ошибка загрузки аккаунта %d/%s: %v", ownerID, username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		// Учетные данные есть, а локального аккаунта нет: пустая подписка
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		return
	}

	now := time.Now()

	// Барьер агента перекрывает пользовательский: при исчерпании агента
	// подписка пуста независимо от состояния самого аккаунта
	agent, err := h.store.GetAgent(ownerID)
	if err != nil {
		log.Printf("Ошибка загрузки агента %d: %v", ownerID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if agent != nil && agent.Active && (agent.OverQuota() || agent.Expired(now)) {
		if !agent.DisabledPushed {
			if err := h.enforcer.PushAgentDisable(ownerID); err != nil {
				log.Printf("Не удалось отключить агента %d из шлюза: %v", ownerID, err)
			}
		}
		h.writeHeaders(w, user, true)
		return
	}

	if user.OverQuota() || user.Expired(now) {
		if !user.DisabledPushed {
			if err := h.enforcer.PushUserDisable(ownerID, username); err != nil {
				log.Printf("Не удалось отключить аккаунт %d/%s из шлюза: %v", ownerID, username, err)
			}
		}
		h.writePlaceholder(w, user)
		return
	}

	rows, err := h.store.ListUserLinks(ownerID, username)
	if err != nil {
		log.Printf("Ошибка загрузки привязок %d/%s: %v", ownerID, username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		// Без явных привязок опрашиваются все панели владельца с
		// совпадающим именем аккаунта
		panels, err := h.store.ListOwnerPanels(ownerID)
		if err != nil {
			log.Printf("Ошибка загрузки панелей владельца %d: %v", ownerID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		rows = fallbackRows(panels, ownerID, username)
	}

	filters, err := h.loadFilters(rows)
	if err != nil {
		log.Printf("Ошибка загрузки фильтров конфигураций: %v", err)
		filters = nil
	}

	links, errMsgs := h.agg.Collect(rows, filters)

	var body string
	switch {
	case len(links) > 0:
		body = strings.Join(links, "\n")
	case len(errMsgs) > 0:
		// Диагностика вместо пустого тела, чтобы клиент видел причину
		comments := make([]string, 0, len(errMsgs))
		for _, msg := range errMsgs {
			comments = append(comments, "# "+msg)
		}
		body = strings.Join(comments, "\n")
	}

	h.writeHeaders(w, user, user.DisabledPushed)
	if body != "" {
		w.Write([]byte(body))
	}
}

// writePlaceholder отдает конфигурацию-заглушку с сообщением об
// исчерпании лимита вместо рабочих ссылок
func (h *Handler) writePlaceholder(w http.ResponseWriter, user *models.LocalUser) {
	message := strings.NewReplacer(
		"{username}", user.Username,
		"{used}", FormatBytes(user.UsedBytes),
		"{limit}", FormatBytes(user.PlanLimitBytes),
	).Replace(h.limitMessage)

	h.writeHeaders(w, user, true)
	w.Write([]byte(h.limitConfig + "#" + url.PathEscape(message)))
}

// writeHeaders выставляет заголовки состояния счетчиков подписки
func (h *Handler) writeHeaders(w http.ResponseWriter, user *models.LocalUser, pushed bool) {
	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Plan-Limit-Bytes", strconv.FormatInt(user.PlanLimitBytes, 10))
	header.Set("X-Used-Bytes", strconv.FormatInt(user.UsedBytes, 10))

	if user.PlanLimitBytes <= 0 {
		header.Set("X-Remaining-Bytes", "unlimited")
	} else {
		remaining := user.PlanLimitBytes - user.UsedBytes
		if remaining < 0 {
			remaining = 0
		}
		header.Set("X-Remaining-Bytes", strconv.FormatInt(remaining, 10))
	}

	if pushed {
		header.Set("X-Disabled-Pushed", "1")
	} else {
		header.Set("X-Disabled-Pushed", "0")
	}
}

// loadFilters собирает отключенные конфигурации панелей из привязок
func (h *Handler) loadFilters(rows []models.LinkRow) (*Filters, error) {
	seen := make(map[int64]struct{}, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.PanelID]; ok {
			continue
		}
		seen[row.PanelID] = struct{}{}
		ids = append(ids, row.PanelID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	configs, err := h.store.ListDisabledConfigs(ids)
	if err != nil {
		return nil, err
	}
	numbers, err := h.store.ListDisabledNumbers(ids)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 && len(numbers) == 0 {
		return nil, nil
	}

	filters := &Filters{
		Names:   make(map[int64]map[string]struct{}),
		Numbers: make(map[int64]map[int]struct{}),
	}
	for _, c := range configs {
		names := filters.Names[c.PanelID]
		if names == nil {
			names = make(map[string]struct{})
			filters.Names[c.PanelID] = names
		}
		names[CanonicalizeName(c.ConfigName)] = struct{}{}
	}
	for _, n := range numbers {
		nums := filters.Numbers[n.PanelID]
		if nums == nil {
			nums = make(map[int]struct{})
			filters.Numbers[n.PanelID] = nums
		}
		nums[n.ConfigIndex] = struct{}{}
	}
	return filters, nil
}

// fallbackRows строит псевдопривязки по панелям владельца
func fallbackRows(panels []models.Panel, ownerID int64, username string) []models.LinkRow {
	rows := make([]models.LinkRow, 0, len(panels))
	for _, p := range panels {
		rows = append(rows, models.LinkRow{
			OwnerID:        ownerID,
			LocalUsername:  username,
			PanelID:        p.ID,
			RemoteUsername: username,
			PanelURL:       p.PanelURL,
			AccessToken:    p.AccessToken,
			PanelType:      p.PanelType,
		})
	}
	return rows
}
