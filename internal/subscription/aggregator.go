package subscription

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/ilokitv/botPanel/internal/models"
	"github.com/ilokitv/botPanel/internal/panel"
)

// cacheSize — емкость кэшей аккаунтов и ссылок
const cacheSize = 256

// Filters описывает отключенные конфигурации по панелям: по каноническому
// имени и по порядковому номеру (нумерация с единицы, после фильтра имен)
type Filters struct {
	Names   map[int64]map[string]struct{}
	Numbers map[int64]map[int]struct{}
}

// Aggregator конкурентно собирает конфигурационные ссылки с панелей.
// Успешные ответы кэшируются на короткий TTL, сбои не кэшируются и
// повторяются при следующем запросе.
type Aggregator struct {
	adapters   panel.Dispatcher
	maxWorkers int
	userCache  *expirable.LRU[string, *panel.Account]
	linksCache *expirable.LRU[string, []string]
}

// NewAggregator создает сборщик ссылок с пулом воркеров и TTL-кэшем
func NewAggregator(adapters panel.Dispatcher, maxWorkers int, cacheTTL time.Duration) *Aggregator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Aggregator{
		adapters:   adapters,
		maxWorkers: maxWorkers,
		userCache:  expirable.NewLRU[string, *panel.Account](cacheSize, nil, cacheTTL),
		linksCache: expirable.NewLRU[string, []string](cacheSize, nil, cacheTTL),
	}
}

// Collect опрашивает все привязки конкурентно и возвращает объединенный
// дедуплицированный список ссылок вместе с диагностикой сбоев. Сбой
// отдельной панели не срывает сбор: ее ссылки просто отсутствуют.
// Порядок ссылок детерминирован и следует порядку привязок.
func (a *Aggregator) Collect(rows []models.LinkRow, filters *Filters) ([]string, []string) {
	if len(rows) == 0 {
		return nil, nil
	}

	results := make([][]string, len(rows))
	failures := make([][]string, len(rows))

	g := new(errgroup.Group)
	limit := a.maxWorkers
	if len(rows) < limit {
		limit = len(rows)
	}
	g.SetLimit(limit)

	for i := range rows {
		i, row := i, rows[i]
		g.Go(func() error {
			results[i], failures[i] = a.collectOne(row, filters)
			return nil
		})
	}
	g.Wait()

	var links, errMsgs []string
	for i := range rows {
		links = append(links, results[i]...)
		errMsgs = append(errMsgs, failures[i]...)
	}
	return FilterDedupe(links), errMsgs
}

// collectOne собирает ссылки одной привязки. Для sanaei привязка может
// объединять несколько под-аккаунтов, которые опрашиваются собственным
// небольшим пулом.
func (a *Aggregator) collectOne(row models.LinkRow, filters *Filters) ([]string, []string) {
	remotes := panel.RemoteNames(row.PanelType, row.RemoteUsername)

	var links, errMsgs []string
	if row.PanelType == panel.TypeSanaei && len(remotes) > 1 {
		results := make([][]string, len(remotes))
		failures := make([][]string, len(remotes))

		inner := new(errgroup.Group)
		limit := 3
		if len(remotes) < limit {
			limit = len(remotes)
		}
		inner.SetLimit(limit)

		for i := range remotes {
			i, remote := i, remotes[i]
			inner.Go(func() error {
				results[i], failures[i] = a.fetchOne(row, remote)
				return nil
			})
		}
		inner.Wait()

		for i := range remotes {
			links = append(links, results[i]...)
			errMsgs = append(errMsgs, failures[i]...)
		}
	} else {
		for _, remote := range remotes {
			remoteLinks, remoteErrs := a.fetchOne(row, remote)
			links = append(links, remoteLinks...)
			errMsgs = append(errMsgs, remoteErrs...)
		}
	}

	return applyFilters(row.PanelID, links, filters), errMsgs
}

// fetchOne возвращает ссылки одного удаленного аккаунта, используя кэш
func (a *Aggregator) fetchOne(row models.LinkRow, remote string) ([]string, []string) {
	cacheKey := fmt.Sprintf("%d|%s", row.PanelID, remote)
	if links, ok := a.linksCache.Get(cacheKey); ok {
		return links, nil
	}

	adapter := a.adapters.ForType(row.PanelType)

	// Для marzban/marzneshin сначала нужен ключ подписки аккаунта;
	// sanaei собирает ссылку из метаданных inbound и в ключе не нуждается
	subKey := ""
	if row.PanelType != panel.TypeSanaei {
		acc, ok := a.userCache.Get(cacheKey)
		if !ok {
			var err error
			acc, err = adapter.GetUser(row.PanelURL, row.AccessToken, remote)
			if err != nil {
				return nil, []string{fmt.Sprintf("%s@%s: %v", remote, row.PanelURL, err)}
			}
			a.userCache.Add(cacheKey, acc)
		}
		if acc.Key == "" {
			return nil, []string{fmt.Sprintf("%s@%s: no subscription key", remote, row.PanelURL)}
		}
		subKey = acc.Key
	}

	links, err := adapter.FetchLinks(row.PanelURL, row.AccessToken, remote, subKey)
	if err != nil {
		return nil, []string{fmt.Sprintf("%s@%s: %v", remote, row.PanelURL, err)}
	}
	a.linksCache.Add(cacheKey, links)
	return links, nil
}

// applyFilters отбрасывает отключенные конфигурации панели: сначала по
// каноническому имени, затем по порядковому номеру в оставшемся списке
func applyFilters(panelID int64, links []string, filters *Filters) []string {
	if filters == nil {
		return links
	}

	if byName := filters.Names[panelID]; len(byName) > 0 {
		kept := make([]string, 0, len(links))
		for _, link := range links {
			if _, drop := byName[CanonicalizeName(ExtractName(link))]; drop {
				continue
			}
			kept = append(kept, link)
		}
		links = kept
	}

	if byNumber := filters.Numbers[panelID]; len(byNumber) > 0 {
		kept := make([]string, 0, len(links))
		for i, link := range links {
			if _, drop := byNumber[i+1]; drop {
				continue
			}
			kept = append(kept, link)
		}
		links = kept
	}

	return links
}
