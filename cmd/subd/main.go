package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/ilokitv/botPanel/internal/config"
	"github.com/ilokitv/botPanel/internal/database"
	"github.com/ilokitv/botPanel/internal/panel"
	"github.com/ilokitv/botPanel/internal/subscription"
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

	// Контролер лимитов для немедленного отключения из шлюза; без бота,
	// уведомления рассылает только фоновый цикл синхронизации
	enforcer := usage.NewEnforcer(db, adapters, nil, nil)

	// Сборщик ссылок и HTTP-шлюз подписок
	aggregator := subscription.NewAggregator(adapters, cfg.Fetch.MaxWorkers, cfg.Fetch.CacheTTL())
	handler := subscription.NewHandler(db, enforcer, aggregator, cfg.Limit.Config, cfg.Limit.Message)

	router := mux.NewRouter()
	handler.Register(router)

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		log.Printf("Сервер подписок запущен на %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка HTTP-сервера: %v", err)
		}
	}()

	// Ожидаем сигнал завершения работы
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Завершение работы сервера подписок...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Ошибка остановки сервера: %v", err)
	}
}
