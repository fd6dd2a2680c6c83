package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Ble       BleConfig       `yaml:"ble"`
	Seq       SeqConfig       `yaml:"seq"`
	Server    ServerConfig    `yaml:"server"`
	Logs      LogsConfig      `yaml:"logs"`
}

type DeviceConfig struct {
	ProductID     uint32 `yaml:"product_id"`
	ProductKey    string `yaml:"product_key"`
	DeviceKey     string `yaml:"device_key"`
	Secret        string `yaml:"secret"`
	ProductSecret string `yaml:"product_secret"`
	Version       string `yaml:"version"`

	EnableOta        bool `yaml:"enable_ota"`
	EnableAuth       bool `yaml:"enable_auth"`
	UseProductSecret bool `yaml:"use_product_secret"`
	SignedAdv        bool `yaml:"signed_adv"`

	VendorAdvData string `yaml:"vendor_adv_data"` // hex encoded
}

type TransportConfig struct {
	MaxMTU      int           `yaml:"max_mtu"` // per-PDU payload budget
	Timeout     time.Duration `yaml:"timeout"`
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

type BleConfig struct {
	LocalName string `yaml:"local_name"`
}

type SeqConfig struct {
	Backend       string        `yaml:"backend"` // "file" or "redis"
	Dir           string        `yaml:"dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogsConfig struct {
	Path string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Device: DeviceConfig{
			Version:    "1.0.0",
			EnableAuth: true,
		},
		Transport: TransportConfig{
			MaxMTU:      244,
			Timeout:     10 * time.Second,
			AuthTimeout: 10 * time.Second,
		},
		Ble: BleConfig{
			LocalName: "AZ",
		},
		Seq: SeqConfig{
			Backend:       "file",
			Dir:           "/var/lib/breeze",
			FlushInterval: time.Hour,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logs: LogsConfig{
			Path: "/var/lib/breeze/logs",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
