package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DatabaseDriver != "sqlite3" || cfg.DatabaseURL != "./telemetry.db" {
		t.Errorf("database = %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.SubscriberQueueSize != 256 || cfg.SubscriberPendingSize != 8192 {
		t.Errorf("subscriber sizes = %d/%d", cfg.SubscriberQueueSize, cfg.SubscriberPendingSize)
	}
	if cfg.SaturationTimeout() != 5*time.Second {
		t.Errorf("SaturationTimeout = %v", cfg.SaturationTimeout())
	}
	if cfg.RelayTimeout() != 30*time.Second {
		t.Errorf("RelayTimeout = %v", cfg.RelayTimeout())
	}
	if cfg.KafkaTopic != "race-telemetry" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
	if cfg.KafkaBrokerList() != nil {
		t.Errorf("KafkaBrokerList = %v, want nil", cfg.KafkaBrokerList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SUBSCRIBER_QUEUE_SIZE", "64")
	t.Setenv("SUBSCRIBER_SATURATION_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_IDS", "123,abc,-456")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.SubscriberQueueSize != 64 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SaturationTimeout() != 750*time.Millisecond {
		t.Errorf("SaturationTimeout = %v", cfg.SaturationTimeout())
	}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) != 2 || brokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokerList = %v", brokers)
	}
	ids := cfg.TelegramChatIDList()
	if len(ids) != 2 || ids[0] != 123 || ids[1] != -456 {
		t.Errorf("TelegramChatIDList = %v", ids)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad driver", env: map[string]string{"DATABASE_DRIVER": "mysql"}},
		{name: "pending smaller than queue", env: map[string]string{"SUBSCRIBER_QUEUE_SIZE": "100", "SUBSCRIBER_PENDING_SIZE": "10"}},
		{name: "negative lookback", env: map[string]string{"DEFAULT_LOOKBACK_MS": "-1"}},
		{name: "telegram without chats", env: map[string]string{"TELEGRAM_TOKEN": "x", "TELEGRAM_CHAT_IDS": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{SubscriberSaturationTimeout: "garbage", RelayDisconnectTimeout: "-3s"}
	if cfg.SaturationTimeout() != 5*time.Second || cfg.RelayTimeout() != 30*time.Second {
		t.Errorf("fallbacks = %v/%v", cfg.SaturationTimeout(), cfg.RelayTimeout())
	}
}
