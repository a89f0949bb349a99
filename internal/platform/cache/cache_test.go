package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
		{"wrong-scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

func TestJSONHelpers_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	c := &Cache{Client: redis.NewClient(&redis.Options{
		Addr:        "localhost:59999",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})}
	defer c.Close()

	var dst map[string]int
	err := c.GetJSON(t.Context(), "k", &dst)
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("GetJSON() error = %v, want connection error", err)
	}
	if err := c.SetJSON(t.Context(), "k", map[string]int{"a": 1}, time.Second); err == nil {
		t.Error("SetJSON() should fail against unreachable host")
	}
}

func TestDelete_NoKeys(t *testing.T) {
	c := &Cache{}
	if err := c.Delete(t.Context()); err != nil {
		t.Errorf("Delete() with no keys error = %v", err)
	}
}
