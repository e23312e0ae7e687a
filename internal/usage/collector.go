package usage

import (
	"log"
	"time"

	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

// Collector периодически опрашивает панели, начисляет дельты трафика в
// локальную базу и запускает проверку лимитов. Счетчики панелей
// накопительные: начисляется только прирост относительно сохраненной
// базы отсчета, а падение счетчика (сброс на панели) перебазирует
// привязку без начисления.
type Collector struct {
	store    Store
	adapters panel.Dispatcher
	enforcer *Enforcer
	interval time.Duration
	stop     chan struct{}
}

// NewCollector создает сборщик трафика
func NewCollector(store Store, adapters panel.Dispatcher, enforcer *Enforcer, interval time.Duration) *Collector {
	return &Collector{
		store:    store,
		adapters: adapters,
		enforcer: enforcer,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start запускает фоновый цикл синхронизации
func (c *Collector) Start() {
	log.Printf("Запуск синхронизации трафика с интервалом %v", c.interval)
	go c.run()
}

// Stop останавливает фоновый цикл
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Первый проход сразу при старте
	c.RunCycle()

	for {
		select {
		case <-ticker.C:
			c.RunCycle()
		case <-c.stop:
			log.Println("Синхронизация трафика остановлена")
			return
		}
	}
}

// RunCycle выполняет один проход синхронизации по всем привязкам
func (c *Collector) RunCycle() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Паника в цикле синхронизации трафика: %v", r)
		}
	}()

	links, err := c.store.ListAllLinks()
	if err != nil {
		log.Printf("Не удалось получить список привязок: %v", err)
		return
	}

	owners := make(map[int64]struct{})
	for _, link := range links {
		used, err := c.fetchUsed(link)
		if err != nil {
			// Сбой любого под-аккаунта пропускает привязку до следующего цикла
			log.Printf("Не удалось опросить %s на панели %s: %v", link.RemoteUsername, link.PanelURL, err)
			continue
		}

		// Владелец попадает в агентскую проверку только после успешного
		// опроса хотя бы одной привязки
		owners[link.OwnerID] = struct{}{}

		if used < link.LastUsedTraffic {
			// Счетчик на панели упал (сброс или пересоздание аккаунта):
			// перебазируем без начисления
			log.Printf("Счетчик %s на панели %s упал с %d до %d, перебазируем",
				link.RemoteUsername, link.PanelURL, link.LastUsedTraffic, used)
			if err := c.store.UpdateLastUsed(link.LinkID, used); err != nil {
				log.Printf("Не удалось обновить базу отсчета привязки %d: %v", link.LinkID, err)
			}
			continue
		}

		if delta := used - link.LastUsedTraffic; delta > 0 {
			if err := c.store.AddUsage(link.OwnerID, link.LocalUsername, delta); err != nil {
				log.Printf("Не удалось начислить %d байт аккаунту %d/%s: %v",
					delta, link.OwnerID, link.LocalUsername, err)
				continue
			}
			if err := c.store.UpdateLastUsed(link.LinkID, used); err != nil {
				log.Printf("Не удалось обновить базу отсчета привязки %d: %v", link.LinkID, err)
			}
		}

		if err := c.enforcer.CheckUser(link.OwnerID, link.LocalUsername); err != nil {
			log.Printf("Ошибка проверки лимита аккаунта %d/%s: %v", link.OwnerID, link.LocalUsername, err)
		}
	}

	// Агентские лимиты проверяются один раз на владельца за цикл
	for ownerID := range owners {
		if err := c.enforcer.CheckAgent(ownerID); err != nil {
			log.Printf("Ошибка проверки лимита агента %d: %v", ownerID, err)
		}
	}
}

// fetchUsed возвращает суммарный накопительный счетчик привязки. Для
// sanaei привязка может объединять несколько под-аккаунтов; сбой любого
// из них делает показание неполным, поэтому вся привязка считается
// неопрошенной.
func (c *Collector) fetchUsed(link models.LinkRow) (int64, error) {
	adapter := c.adapters.ForType(link.PanelType)

	var total int64
	for _, remote := range panel.RemoteNames(link.PanelType, link.RemoteUsername) {
		acc, err := adapter.GetUser(link.PanelURL, link.AccessToken, remote)
		if err != nil {
			return 0, err
		}
		total += acc.UsedTraffic
	}
	return total, nil
}
