package config

import (
	"fmt"
	"net/url"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	AWS      AWSConfig      `yaml:"aws"`
	Tracking TrackingConfig `yaml:"tracking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	PackageChangedTopicName string `yaml:"package_changed_topic_name"`
	NotifierConsumerGroup   string `yaml:"notifier_consumer_group"`
	SyncConsumerGroupPrefix string `yaml:"sync_consumer_group_prefix"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AWSConfig struct {
	Region      string `yaml:"region"`
	SNSEndpoint string `yaml:"sns_endpoint"`
}

type TrackingConfig struct {
	TrackTWBaseURL      string `yaml:"tracktw_base_url"`
	TrackTWToken        string `yaml:"tracktw_token"`
	TrackTWRateLimit    int    `yaml:"tracktw_rate_limit_per_minute"`
	RelationTTLHours    int    `yaml:"relation_ttl_hours"`
	ParcelTWBaseURL     string `yaml:"parceltw_base_url"`
	EnableScrapers      bool   `yaml:"enable_scrapers"`
	UseFakeProvider     bool   `yaml:"use_fake_provider"`
	MaxConcurrency      int    `yaml:"max_concurrency"`
	BatchTimeoutSeconds int    `yaml:"batch_timeout_seconds"`
}

type WorkerConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	CallDelayMillis     int    `yaml:"call_delay_millis"`
	DigestHour          int    `yaml:"digest_hour"`
	DisableDigest       bool   `yaml:"disable_digest"`
	NotifyLockSeconds   int    `yaml:"notify_lock_seconds"`

	// паузы после прерванных циклов (429/401)
	Backoff1Seconds int `yaml:"backoff_1_seconds"`
	Backoff2Seconds int `yaml:"backoff_2_seconds"`
	Backoff3Seconds int `yaml:"backoff_3_seconds"`
	Backoff4Seconds int `yaml:"backoff_4_seconds"`
}

type SyncConfig struct {
	UserID                 string `yaml:"user_id"`
	DeviceID               string `yaml:"device_id"`
	LocalDSN               string `yaml:"local_dsn"`
	HTTPAddr               string `yaml:"http_addr"`
	EchoWindowMillis       int    `yaml:"echo_window_millis"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
}

type APIConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	SwaggerPath string `yaml:"swagger_path"`
}

// ConnString собирает DSN для pgx.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// applyEnv: секреты из окружения важнее файла.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRACKW_TOKEN"); v != "" {
		c.Tracking.TrackTWToken = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}
