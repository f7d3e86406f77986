package main

import (
	"log"

	"coderoom-backend/internal/cache"
	"coderoom-backend/internal/config"
	"coderoom-backend/internal/database"
	"coderoom-backend/internal/server"

	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	// snippet database is optional
	var db *gorm.DB
	if database.LoadConfig().Configured() {
		var err error
		db, err = database.ConnectDB()
		if err != nil {
			log.Fatalf("❌ Database connection failed: %v", err)
		}
		defer database.Close()

		if err := database.Ping(); err != nil {
			log.Fatalf("❌ Database ping failed: %v", err)
		}
		log.Printf("✅ Database connected successfully")
	} else {
		log.Println("ℹ️ DB_HOST not set, snippet storage disabled")
	}

	// execution history cache is optional
	var redisClient *cache.RedisClient
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (execution history disabled)", err)
			redisClient = nil
		} else {
			log.Printf("✅ Redis connected (%s)", cfg.Redis.Addr)
			defer redisClient.Close()
		}
	} else {
		log.Println("ℹ️ REDIS_ADDR not set, execution history disabled")
	}

	srv := server.New(cfg, db, redisClient)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
