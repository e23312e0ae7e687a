package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ilokitv/botPanel/internal/admin"
	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/database"
	"github.com/ilokitv/botPanel/internal/handlers"
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

	// Адаптеры панелей и менеджер административных операций
	adapters := panel.NewRegistry(cfg.Fetch.Timeout())
	manager := admin.NewManager(db, adapters)

	// Инициализируем Telegram бота
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatalf("Ошибка инициализации Telegram бота: %v", err)
	}

	log.Printf("Бот запущен: %s", bot.Self.UserName)

	// Немедленный пересчет агентов по административным командам
	enforcer := usage.NewEnforcer(db, adapters, bot, cfg.Bot.AdminIDs)

	// Создаем обработчик бота
	botHandler := handlers.NewBotHandler(bot, db, manager, enforcer, cfg)

	// Настраиваем обновления
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	// Получаем канал обновлений
	updates := bot.GetUpdatesChan(updateConfig)

	// Канал для сигналов завершения работы
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Обрабатываем обновления
	for {
		select {
		case update := <-updates:
			botHandler.HandleUpdate(update)
		case <-stop:
			log.Println("Завершение работы бота...")
			return
		}
	}
}
