package app

import (
	"context"
	"testing"
	"time"
)

func TestParseWindowReply(t *testing.T) {
	tests := []struct {
		name          string
		reply         interface{}
		wantHits      int64
		wantRemaining int64
		wantErr       bool
	}{
		{name: "valid", reply: []interface{}{int64(3), int64(42000)}, wantHits: 3, wantRemaining: 42000},
		{name: "wrong shape", reply: "OK", wantErr: true},
		{name: "short reply", reply: []interface{}{int64(1)}, wantErr: true},
		{name: "string count", reply: []interface{}{"1", int64(10)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, remaining, err := parseWindowReply(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if hits != tt.wantHits || remaining != tt.wantRemaining {
				t.Fatalf("expected %d/%d, got %d/%d", tt.wantHits, tt.wantRemaining, hits, remaining)
			}
		})
	}
}

func TestRedisSubmissionRateLimiter_DisabledWithoutClient(t *testing.T) {
	limiter := NewRedisSubmissionRateLimiter(nil, "")
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), submitRateLimitScope, "0x111", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected no-op limiter, got count=%d retry=%d err=%v", count, retry, err)
	}
}
