package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT 配置
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Config 服务配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Telemetry struct {
		RoomTopic    string `yaml:"room_topic"`
		DeviceTopic  string `yaml:"device_topic"`
		PollInterval int    `yaml:"poll_interval"` // 秒，轮询兜底间隔
	} `yaml:"telemetry"`

	Cache struct {
		StateKey string `yaml:"state_key"`
		StateTTL int    `yaml:"state_ttl"` // 秒
		FeedTTL  int    `yaml:"feed_ttl"`  // 秒
	} `yaml:"cache"`

	Alert struct {
		AuxDeviceName string `yaml:"aux_device_name"` // 辅助运动传感器设备名
		NotifyWebhook string `yaml:"notify_webhook"`  // 空则不推送通知
	} `yaml:"alert"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置：环境变量（带默认值），再用可选的 YAML 文件覆盖
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wardwatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wardwatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Telemetry.RoomTopic = getEnv("TELEMETRY_ROOM_TOPIC", "wardwatch/ward/+/room/+/status")
	cfg.Telemetry.DeviceTopic = getEnv("TELEMETRY_DEVICE_TOPIC", "wardwatch/device/+/telemetry")
	cfg.Telemetry.PollInterval = 5

	cfg.Cache.StateKey = getEnv("CACHE_STATE_KEY", "wardwatch:state")
	cfg.Cache.StateTTL = 30
	cfg.Cache.FeedTTL = 86400

	cfg.Alert.AuxDeviceName = getEnv("ALERT_AUX_DEVICE_NAME", "MotionSensor")
	cfg.Alert.NotifyWebhook = getEnv("ALERT_NOTIFY_WEBHOOK", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 可选的 YAML 覆盖
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
