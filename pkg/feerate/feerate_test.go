package feerate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMempoolClientPriorities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fastestFee":42,"halfHourFee":21,"hourFee":11}`))
	}))
	defer srv.Close()

	client := NewMempoolClient(srv.URL, time.Second, 5)

	cases := []struct {
		priority Priority
		want     uint64
	}{
		{PriorityNextBlock, 42},
		{PriorityHalfHour, 21},
		{PriorityOneHour, 11},
	}
	for _, tc := range cases {
		got, err := client.SatsPerVByte(context.Background(), tc.priority)
		if err != nil {
			t.Fatalf("%s: %v", tc.priority, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.priority, got, tc.want)
		}
	}
}

func TestMempoolClientFallsBackWhenUnreachable(t *testing.T) {
	client := NewMempoolClient("http://127.0.0.1:1", 100*time.Millisecond, 7)
	got, err := client.SatsPerVByte(context.Background(), PriorityOneHour)
	if err != nil {
		t.Fatalf("expected fallback, got error %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d want fallback 7", got)
	}
}

func TestMempoolClientRejectsUnknownPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fastestFee":42,"halfHourFee":21,"hourFee":11}`))
	}))
	defer srv.Close()

	client := NewMempoolClient(srv.URL, time.Second, 5)
	if _, err := client.SatsPerVByte(context.Background(), Priority("warp")); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}
