// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string        `yaml:"env"`
	StorageConnectionString string        `yaml:"storage_connection_string"`
	AMQPConnectionString    string        `yaml:"amqp_connection_string"`
	AMQPMaxRetries          int           `yaml:"amqp_max_retries" env-default:"5"`
	AMQPRetryDelay          time.Duration `yaml:"amqp_retry_delay" env-default:"3s"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	DecisionToken           `yaml:"decision_token"`
	Marketplace             `yaml:"marketplace"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// DecisionToken структура для подписи кодов решений ревьюера
type DecisionToken struct {
	SecretKey string `yaml:"secret_key"`
}

// Marketplace тарифы и адресаты ядра маркетплейса
type Marketplace struct {
	ReviewerID        string        `yaml:"reviewer_id"`
	BroadcastChannel  string        `yaml:"broadcast_channel"`
	JobPostCost       int           `yaml:"job_post_cost" env-default:"45"`
	JobRepostCost     int           `yaml:"job_repost_cost" env-default:"25"`
	ShortlistBonus    int           `yaml:"shortlist_bonus" env-default:"3"`
	DistributionValid int           `yaml:"distribution_validity_days" env-default:"30"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env-default:"1h"`
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
