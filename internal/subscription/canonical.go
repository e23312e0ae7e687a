// Package subscription содержит выдачу подписок: конкурентный сбор
// конфигурационных ссылок с панелей, фильтрацию отключенных конфигураций
// и HTTP-шлюз с проверкой лимитов на чтении.
package subscription

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ilokitv/botPanel/internal/panel"
)

var (
	// "1.5GB/10GB" и подобные счетчики трафика в имени конфигурации
	trafficRe = regexp.MustCompile(`(?i)\s*\d+(?:\.\d+)?\s*[KMGT]?B/\d+(?:\.\d+)?\s*[KMGT]?B`)
	// Метка владельца, которую дописывают некоторые панели
	ownerTagRe = regexp.MustCompile(`\s*👤.*`)
	// Случайный суффикс в скобках: "(aB3xK9)"
	randomSuffixRe = regexp.MustCompile(`\s*\([a-zA-Z0-9_-]{3,}\)`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
)

// CanonicalizeName приводит имя конфигурации к канонической форме:
// снимает URL-экранирование, вырезает счетчики трафика, метки владельца
// и случайные суффиксы, схлопывает пробелы. Функция идемпотентна:
// повторное применение не меняет результат.
func CanonicalizeName(raw string) string {
	name := raw
	// Экранирование снимается до неподвижной точки: дважды экранированное
	// имя ("a%2520") приводится к той же форме за один вызов
	for i := 0; i < 4; i++ {
		unescaped, err := url.PathUnescape(name)
		if err != nil || unescaped == name {
			break
		}
		name = unescaped
	}
	name = trafficRe.ReplaceAllString(name, "")
	name = ownerTagRe.ReplaceAllString(name, "")
	name = randomSuffixRe.ReplaceAllString(name, "")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > 255 {
		name = string(runes[:255])
	}
	return name
}

// ExtractName возвращает имя конфигурации — фрагмент ссылки после "#"
func ExtractName(link string) string {
	if i := strings.Index(link, "#"); i >= 0 {
		return link[i+1:]
	}
	return ""
}

// FilterDedupe отбрасывает строки с нераспознаваемой схемой и дубликаты,
// сохраняя порядок первого вхождения
func FilterDedupe(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, link := range links {
		link = strings.TrimSpace(strings.Trim(strings.TrimSpace(link), `"'`))
		if link == "" || !panel.AllowedScheme(link) {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

// FormatBytes форматирует число байт в человекочитаемый вид
func FormatBytes(n int64) string {
	value := float64(n)
	for _, suffix := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 {
			return fmt.Sprintf("%.2f %s", value, suffix)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.2f PB", value)
}
