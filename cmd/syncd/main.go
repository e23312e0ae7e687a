package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/database"
	"github.com/ilokitv/botPanel/internal/panel"
	"github.com/ilokitv/botPanel/internal/usage"
)

func main() {
	// Парсим аргументы командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Создаем подключение к базе данных
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Инициализируем таблицы базы данных
	err = db.InitTables()
	if err != nil {
		log.Fatalf("Ошибка инициализации таблиц базы данных: %v", err)
	}

	// Адаптеры панелей с общим HTTP-клиентом
	adapters := panel.NewRegistry(cfg.Fetch.Timeout())

	// Telegram бот для уведомлений администраторов; без токена
	// синхронизация работает, но уведомления не отправляются
	var bot *tgbotapi.BotAPI
	if cfg.Bot.Token != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			log.Printf("Ошибка инициализации Telegram бота, уведомления отключены: %v", err)
			bot = nil
		} else {
			log.Printf("Бот уведомлений запущен: %s", bot.Self.UserName)
		}
	}

	// Запускаем фоновый цикл сверки трафика и применения лимитов
	enforcer := usage.NewEnforcer(db, adapters, bot, cfg.Bot.AdminIDs)
	collector := usage.NewCollector(db, adapters, enforcer, cfg.Sync.Interval())
	collector.Start()
	defer collector.Stop()

	// Ожидаем сигнал завершения работы
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Завершение работы синхронизации...")
}
