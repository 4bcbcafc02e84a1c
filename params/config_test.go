package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnvPriority(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "API_ADDR=:9000\nSIM_TICKS=250\nSIM_SYMBOLS=XYZ, QQQ\nKAFKA_BROKERS=k1:9092,k2:9092\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// ENV beats .env
	t.Setenv("SIM_TICKS", "500")
	t.Setenv("STORE_ENABLED", "false")
	t.Setenv("SIM_FREQUENCY_SEC", "60")
	t.Setenv("EXCHANGE_KIND", "actor")

	cfg := LoadFromEnv(envFile)
	t.Cleanup(func() {
		os.Unsetenv("API_ADDR")
		os.Unsetenv("SIM_SYMBOLS")
		os.Unsetenv("KAFKA_BROKERS")
	})

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Sim.Ticks != 500 {
		t.Errorf("Ticks = %d, want 500", cfg.Sim.Ticks)
	}
	if len(cfg.Sim.Symbols) != 2 || cfg.Sim.Symbols[1] != "QQQ" {
		t.Errorf("Symbols = %v, want [XYZ QQQ]", cfg.Sim.Symbols)
	}
	if cfg.Storage.Enabled {
		t.Error("STORE_ENABLED=false should disable the store")
	}
	if cfg.Sim.Frequency != time.Minute {
		t.Errorf("Frequency = %v, want 1m", cfg.Sim.Frequency)
	}
	if cfg.Sim.Kind != "actor" {
		t.Errorf("Kind = %q, want actor", cfg.Sim.Kind)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	// untouched keys keep their defaults
	if cfg.Sim.MarketPolicy != "queue" || cfg.Kafka.Topic != "tickex.ticks" {
		t.Errorf("defaults lost: policy=%q topic=%q", cfg.Sim.MarketPolicy, cfg.Kafka.Topic)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"a,b,c", 3},
		{" a , ,b ", 2},
		{",", 0},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d items", tt.in, got, tt.want)
		}
	}
}
