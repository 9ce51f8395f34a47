package ratelimiter

import (
	"fmt"
	"testing"
	"time"
)

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestKeyLimiterBurstThenRefill(t *testing.T) {
	l := New(Budget{RPS: 1, Burst: 2}, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, ok := l.Reserve("memory", "mainnet", epoch); !ok {
			t.Fatalf("call %d of the burst must be allowed", i+1)
		}
	}
	wait, ok := l.Reserve("memory", "mainnet", epoch)
	if ok {
		t.Fatal("third call within the same instant must be refused")
	}
	if wait != time.Second {
		t.Fatalf("expected one second until the next token, got %s", wait)
	}
	if _, ok := l.Reserve("memory", "testnet", epoch); !ok {
		t.Fatal("buckets must be independent per key")
	}
	if _, ok := l.Reserve("memory", "mainnet", epoch.Add(time.Second)); !ok {
		t.Fatal("token must refill after one second")
	}
}

func TestKeyLimiterRefusalConsumesNothing(t *testing.T) {
	l := New(Budget{RPS: 1, Burst: 1}, nil, time.Minute)
	if _, ok := l.Reserve("memory", "k", epoch); !ok {
		t.Fatal("first call must be allowed")
	}
	for i := 0; i < 5; i++ {
		if _, ok := l.Reserve("memory", "k", epoch.Add(100*time.Millisecond)); ok {
			t.Fatal("calls before refill must be refused")
		}
	}
	if _, ok := l.Reserve("memory", "k", epoch.Add(1500*time.Millisecond)); !ok {
		t.Fatal("refused calls must not push the refill back")
	}
}

func TestKeyLimiterPerBackendBudgets(t *testing.T) {
	l := New(Budget{RPS: 1, Burst: 1}, map[string]Budget{
		"KMS":            {RPS: 1, Burst: 3},
		"macos-keychain": {},
	}, time.Minute)

	if got := l.Budget("kms"); got.Burst != 3 {
		t.Fatalf("expected kms burst 3, got %+v", got)
	}
	for i := 0; i < 3; i++ {
		if _, ok := l.Reserve("kms", "alias/treasury", epoch); !ok {
			t.Fatalf("kms call %d must fit its own burst", i+1)
		}
	}
	if _, ok := l.Reserve("kms", "alias/treasury", epoch); ok {
		t.Fatal("kms burst exhausted")
	}
	for i := 0; i < 10; i++ {
		if _, ok := l.Reserve("macos-keychain", "h", epoch); !ok {
			t.Fatal("an unlimited backend entry must exempt that backend")
		}
	}
	if _, ok := l.Reserve("file", "alias/treasury", epoch); !ok {
		t.Fatal("same key under another backend has its own bucket")
	}
	if _, ok := l.Reserve("file", "alias/treasury", epoch); ok {
		t.Fatal("backends without an entry use the fallback budget")
	}
}

func TestKeyLimiterNilAllowsEverything(t *testing.T) {
	if New(Budget{}, nil, 0) != nil || New(Budget{RPS: 1}, map[string]Budget{"kms": {Burst: 2}}, 0) != nil {
		t.Fatal("settings that limit nothing must disable the limiter")
	}
	if New(Budget{}, map[string]Budget{"kms": {RPS: 1, Burst: 1}}, 0) == nil {
		t.Fatal("a single limited backend must enable the limiter")
	}
	var l *KeyLimiter
	for i := 0; i < 10; i++ {
		if _, ok := l.Reserve("memory", "k", time.Now()); !ok {
			t.Fatal("nil limiter must allow")
		}
	}
	if l.Len() != 0 {
		t.Fatal("nil limiter has no buckets")
	}
}

func TestKeyLimiterEvictsIdleKeys(t *testing.T) {
	l := New(Budget{RPS: 100, Burst: 100}, nil, time.Minute)
	for i := 0; i < 50; i++ {
		l.Reserve("memory", fmt.Sprintf("key-%d", i), epoch)
	}
	if got := l.Len(); got != 50 {
		t.Fatalf("expected 50 buckets, got %d", got)
	}
	l.Reserve("memory", "fresh", epoch.Add(2*time.Minute))
	if got := l.Len(); got != 1 {
		t.Fatalf("expected only the fresh key to survive the sweep, got %d", got)
	}
}
