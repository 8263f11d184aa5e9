package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	tests := []struct {
		ns    string
		parts []string
		want  string
	}{
		{"wa", []string{"group", "123@g.us"}, "wa:group:123@g.us"},
		{"plugin", []string{"meta", "main/ping.toml"}, "plugin:meta:main/ping.toml"},
		{"wa", nil, "wa:"},
	}
	for _, tt := range tests {
		if got := Key(tt.ns, tt.parts...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.ns, tt.parts, got, tt.want)
		}
	}
}

func TestSetGetDel(t *testing.T) {
	key := Key("test", "set-get-del")
	if err := Set(key, "v"); err != nil {
		t.Fatal(err)
	}
	if v, ok := Get[string](key); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if _, ok := Get[int](key); ok {
		t.Error("expected a type mismatch to miss")
	}
	Del(key)
	if _, ok := Get[string](key); ok {
		t.Error("expected a miss after Del")
	}
}

func TestGetOrLoad(t *testing.T) {
	key := Key("test", "get-or-load")
	var calls atomic.Int32
	load := func() (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "loaded", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrLoad(key, time.Minute, load)
			if err != nil || v != "loaded" {
				t.Errorf("GetOrLoad = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("load ran %d times, want 1", n)
	}

	// Served from the cache now.
	if _, err := GetOrLoad(key, time.Minute, load); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("load ran %d times after a hit, want 1", n)
	}
	Del(key)
}

func TestGetOrLoadErrorNotCached(t *testing.T) {
	key := Key("test", "get-or-load-error")
	boom := errors.New("boom")
	if _, err := GetOrLoad(key, time.Minute, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	v, err := GetOrLoad(key, time.Minute, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("GetOrLoad after error = %d, %v", v, err)
	}
	Del(key)
}
