package app

import (
	"strconv"

	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.NeedsRedis() {
		app.Logger.Info("Redis: Not configured (in-memory credential store, no distributed lock)")
		return nil
	}

	// Validate has already checked both values
	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		return errors.CacheUnavailableError("connect to redis at "+app.Config.RedisAddress, err)
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
