package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestConfigOptions(t *testing.T) {
	if _, err := (Config{}).Options(); err == nil {
		t.Fatalf("expected error without address")
	}
	opts, err := Config{Address: " localhost:6379 ", DB: 2, DialTimeout: time.Second, PoolSize: 4}.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 2 || opts.DialTimeout != time.Second || opts.PoolSize != 4 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestOpen(t *testing.T) {
	addr := os.Getenv("AGENTHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTHUB_TEST_REDIS_ADDR not set")
	}
	client, err := Open(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer client.Close()
}
