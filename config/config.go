/*
Copyright 2024 Earmark Commerce Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	DEFAULT_RESERVATION_TTL_HOURS  = 24
	DEFAULT_LOCK_WAIT_SECONDS      = 5
	DEFAULT_LOCK_LEASE_SECONDS     = 10
	DEFAULT_LOCK_RETRY_ATTEMPTS    = 3
	DEFAULT_LOCK_BACKOFF_BASE_MS   = 100
	DEFAULT_RECLAIM_CRON           = "*/30 * * * *"
	DEFAULT_INVENTORY_CACHE_TTLSEC = 30
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"EARMARK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"EARMARK_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"EARMARK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"EARMARK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"EARMARK_REDIS_DNS"`
}

// ReservationConfig controls the pending-order ledger and the distributed
// locks that serialize multi-product mutations against it.
type ReservationConfig struct {
	TTLHours          int   `json:"ttl_hours" envconfig:"EARMARK_RESERVATION_TTL_HOURS"`
	LockWaitSeconds   int   `json:"lock_wait_seconds" envconfig:"EARMARK_LOCK_WAIT_SECONDS"`
	LockLeaseSeconds  int   `json:"lock_lease_seconds" envconfig:"EARMARK_LOCK_LEASE_SECONDS"`
	LockRetryAttempts int   `json:"lock_retry_attempts" envconfig:"EARMARK_LOCK_RETRY_ATTEMPTS"`
	LockBackoffBaseMs int64 `json:"lock_backoff_base_ms" envconfig:"EARMARK_LOCK_BACKOFF_BASE_MS"`
}

// ReclaimerConfig controls the expired reservation sweep. MarkReclaimedFailed
// decides whether a reclaimed order is also moved to FAILED or left in
// PROCESSING for a separate visibility concern to handle.
type ReclaimerConfig struct {
	CronSpec            string `json:"cron_spec" envconfig:"EARMARK_RECLAIM_CRON"`
	MarkReclaimedFailed bool   `json:"mark_reclaimed_failed" envconfig:"EARMARK_RECLAIM_MARK_FAILED"`
}

type QueueConfig struct {
	PaymentSuccessQueue      string `json:"payment_success_queue" envconfig:"EARMARK_QUEUE_PAYMENT_SUCCESS"`
	PaymentFailedQueue       string `json:"payment_failed_queue" envconfig:"EARMARK_QUEUE_PAYMENT_FAILED"`
	PaymentCanceledQueue     string `json:"payment_canceled_queue" envconfig:"EARMARK_QUEUE_PAYMENT_CANCELED"`
	InventorySettlementQueue string `json:"inventory_settlement_queue" envconfig:"EARMARK_QUEUE_INVENTORY_SETTLEMENT"`
	NotificationQueue        string `json:"notification_queue" envconfig:"EARMARK_QUEUE_NOTIFICATION"`
	ReclaimQueue             string `json:"reclaim_queue" envconfig:"EARMARK_QUEUE_RECLAIM"`
	MonitoringPort           string `json:"monitoring_port" envconfig:"EARMARK_QUEUE_MONITORING_PORT"`
}

type InventoryConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds" envconfig:"EARMARK_INVENTORY_CACHE_TTL_SECONDS"`
}

type Notification struct {
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"EARMARK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"EARMARK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"EARMARK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"EARMARK_PROJECT_NAME"`
	OtelEndpoint string            `json:"otel_endpoint" envconfig:"EARMARK_OTEL_ENDPOINT"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	Reservation  ReservationConfig `json:"reservation"`
	Reclaimer    ReclaimerConfig   `json:"reclaimer"`
	Queue        QueueConfig       `json:"queue"`
	Inventory    InventoryConfig   `json:"inventory"`
	Notification Notification      `json:"notification"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("earmark", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called earmark.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Earmark Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.applyReservationDefaults()
	cnf.applyQueueDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) applyReservationDefaults() {
	if cnf.Reservation.TTLHours <= 0 {
		cnf.Reservation.TTLHours = DEFAULT_RESERVATION_TTL_HOURS
	}
	if cnf.Reservation.LockWaitSeconds <= 0 {
		cnf.Reservation.LockWaitSeconds = DEFAULT_LOCK_WAIT_SECONDS
	}
	if cnf.Reservation.LockLeaseSeconds <= 0 {
		cnf.Reservation.LockLeaseSeconds = DEFAULT_LOCK_LEASE_SECONDS
	}
	if cnf.Reservation.LockRetryAttempts <= 0 {
		cnf.Reservation.LockRetryAttempts = DEFAULT_LOCK_RETRY_ATTEMPTS
	}
	if cnf.Reservation.LockBackoffBaseMs <= 0 {
		cnf.Reservation.LockBackoffBaseMs = DEFAULT_LOCK_BACKOFF_BASE_MS
	}
	if cnf.Reclaimer.CronSpec == "" {
		cnf.Reclaimer.CronSpec = DEFAULT_RECLAIM_CRON
	}
	if cnf.Inventory.CacheTTLSeconds <= 0 {
		cnf.Inventory.CacheTTLSeconds = DEFAULT_INVENTORY_CACHE_TTLSEC
	}
}

func (cnf *Configuration) applyQueueDefaults() {
	if cnf.Queue.PaymentSuccessQueue == "" {
		cnf.Queue.PaymentSuccessQueue = "payment_success"
	}
	if cnf.Queue.PaymentFailedQueue == "" {
		cnf.Queue.PaymentFailedQueue = "payment_failed"
	}
	if cnf.Queue.PaymentCanceledQueue == "" {
		cnf.Queue.PaymentCanceledQueue = "payment_canceled"
	}
	if cnf.Queue.InventorySettlementQueue == "" {
		cnf.Queue.InventorySettlementQueue = "inventory_settlement"
	}
	if cnf.Queue.NotificationQueue == "" {
		cnf.Queue.NotificationQueue = "notification"
	}
	if cnf.Queue.ReclaimQueue == "" {
		cnf.Queue.ReclaimQueue = "reclaim_expired"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5403"
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.applyReservationDefaults()
	mockConfig.applyQueueDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
