package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath — переменная окружения с путём к YAML-файлу.
const EnvConfigPath = "OPSPULSE_CONFIG"

// Config — конфигурация scheduler'а и CLI.
//
// Порядок применения: значения по умолчанию, YAML-файл, переменные окружения.
type Config struct {
	InstanceID string          `yaml:"instance_id" validate:"required,max=64"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Runner     RunnerConfig    `yaml:"runner"`
	Store      StoreConfig     `yaml:"store"`
	MQ         MQConfig        `yaml:"mq"`
	API        APIConfig       `yaml:"api"`
	Log        LogConfig       `yaml:"log"`
}

// SchedulerConfig — параметры тика.
type SchedulerConfig struct {
	DueSlack       Duration `yaml:"due_slack" validate:"gte=0"`
	BatchLimit     int      `yaml:"batch_limit" validate:"gte=1,lte=1000"`
	MaxConcurrency int      `yaml:"max_concurrency" validate:"gte=1,lte=256"`
	TickTimeout    Duration `yaml:"tick_timeout" validate:"gt=0"`
	TickSchedule   string   `yaml:"tick_schedule" validate:"required"`
	Lease          Duration `yaml:"lease" validate:"gt=0"`
}

// RunnerConfig — параметры HTTP runner'а.
type RunnerConfig struct {
	Timeout      Duration `yaml:"timeout" validate:"gt=0"`
	Retries      int      `yaml:"retries" validate:"gte=0,lte=10"`
	Backoff      Duration `yaml:"backoff" validate:"gte=0"`
	BackoffMax   Duration `yaml:"backoff_max" validate:"gte=0"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" validate:"gt=0"`
}

// StoreConfig — хранилище routines и runs.
type StoreConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN      string `yaml:"dsn" validate:"required_if=Driver sqlite"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
	Migrate  bool   `yaml:"migrate"`
}

// MQConfig — RabbitMQ.
type MQConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
}

// APIConfig — HTTP-поверхность scheduler'а.
type APIConfig struct {
	Addr         string  `yaml:"addr" validate:"required"`
	TriggerRPS   float64 `yaml:"trigger_rps" validate:"gt=0"`
	TriggerBurst int     `yaml:"trigger_burst" validate:"gte=1"`
}

// LogConfig — уровень и формат логов.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		InstanceID: defaultInstanceID(),
		Scheduler: SchedulerConfig{
			DueSlack:       Duration(3 * time.Second),
			BatchLimit:     20,
			MaxConcurrency: 5,
			TickTimeout:    Duration(50 * time.Second),
			TickSchedule:   "@every 1m",
			Lease:          Duration(60 * time.Second),
		},
		Runner: RunnerConfig{
			Timeout:      Duration(8 * time.Second),
			Retries:      1,
			Backoff:      Duration(time.Second),
			BackoffMax:   Duration(5 * time.Second),
			MaxBodyBytes: 64 << 10,
		},
		Store: StoreConfig{
			Driver:   "postgres",
			MaxConns: 10,
			Migrate:  true,
		},
		API: APIConfig{
			Addr:         ":8081",
			TriggerRPS:   5,
			TriggerBurst: 10,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load собирает конфигурацию из файла path (или OPSPULSE_CONFIG) и окружения.
// Пустой path без OPSPULSE_CONFIG — только значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)
	cfg.Log.Level = strings.ToUpper(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv применяет переменные окружения поверх файла.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("DB_DRIVER"); ok && v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("DB_URL"); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup("RABBITMQ_URL"); ok && v != "" {
		c.MQ.URL = v
		c.MQ.Enabled = true
	}
	if v, ok := lookup("SCHED_PORT"); ok && v != "" {
		if strings.Contains(v, ":") {
			c.API.Addr = v
		} else {
			c.API.Addr = ":" + v
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("INSTANCE_ID"); ok && v != "" {
		c.InstanceID = v
	}
}

// Validate проверяет конфигурацию.
//
// Кроме полей проверяется, что аренда переживает худший случай выполнения:
// lease > (retries+1)*timeout + retries*backoff_max.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if worst := c.WorstCaseExecution(); c.Scheduler.Lease.Std() <= worst {
		return fmt.Errorf("%w: scheduler.lease %s must exceed worst-case execution %s",
			ErrInvalid, c.Scheduler.Lease, worst)
	}
	return nil
}

// WorstCaseExecution — верхняя граница времени одного выполнения routine
// со всеми повторами.
func (c *Config) WorstCaseExecution() time.Duration {
	retries := time.Duration(c.Runner.Retries)
	return (retries+1)*c.Runner.Timeout.Std() + retries*c.Runner.BackoffMax.Std()
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "opspulse"
	}
	if len(host) > 64 {
		host = host[:64]
	}
	return host
}
