package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := Key("便宜的 手机 有哪些", "")
	b := Key("便宜的手机有哪些", "")
	if a != b {
		t.Error("whitespace should not change the key")
	}
	if Key("iPhone", "") != Key("IPHONE", "") {
		t.Error("case should not change the key")
	}
	if Key("手机", "") == Key("手机", "price_range") {
		t.Error("session state must change the key")
	}
	if !strings.HasPrefix(a, keyPrefix) {
		t.Errorf("expected prefix %q, got %q", keyPrefix, a)
	}
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(time.Minute)
	var _ Cache = c

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected hit v, got %q ok=%v err=%v", v, ok, err)
	}

	if err := c.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected miss after purge")
	}
}

func TestLocal_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(20 * time.Millisecond)
	c.Set(ctx, "k", []byte("v"))
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}
