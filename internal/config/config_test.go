package config

import "testing"

func TestValidateRejectsBadPoolBounds(t *testing.T) {
	cfg := &Config{
		Gateway:  Gateway{MaxConcurrentConns: 10},
		Consumer: Consumer{Workers: 1, BatchSize: 1},
		Database: Database{PoolMin: 10, PoolMax: 2},
		Logging:  Logging{Level: "info", Format: "json"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when pool max < pool min")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{
		Gateway:  Gateway{MaxConcurrentConns: 10},
		Consumer: Consumer{Workers: 1, BatchSize: 1},
		Database: Database{PoolMin: 1, PoolMax: 2},
		Logging:  Logging{Level: "verbose", Format: "json"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized log level")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &Config{
		Gateway:  Gateway{MaxConcurrentConns: 10000},
		Consumer: Consumer{Workers: 4, BatchSize: 50},
		Database: Database{PoolMin: 2, PoolMax: 10},
		Logging:  Logging{Level: "info", Format: "json"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestAtomicSwap(t *testing.T) {
	first := &Config{Environment: "first"}
	a := NewAtomic(first)
	if got := a.Load().Environment; got != "first" {
		t.Fatalf("Load() = %q, want %q", got, "first")
	}

	second := &Config{Environment: "second"}
	a.Store(second)
	if got := a.Load().Environment; got != "second" {
		t.Fatalf("Load() after Store = %q, want %q", got, "second")
	}
}
