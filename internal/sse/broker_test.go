package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishProgress(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishProgress(40, "Merged Claims Payment")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: import.progress") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"percent":40`) || !strings.Contains(s, `"status":"Merged Claims Payment"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishAreaEvent_RollupThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAreaEvent("updated", "providerEnrollment")
	b.PublishAreaEvent("finalized", "claimsPayment")
	b.PublishAreaEvent("bogus", "claimsPayment")

	var rollups, areas []string
	for _, s := range drain(ch) {
		if strings.Contains(s, TypeRollupUpdated) {
			rollups = append(rollups, s)
		} else {
			areas = append(areas, s)
		}
	}
	if len(areas) != 2 {
		t.Fatalf("area events = %q, want 2", areas)
	}
	if !strings.Contains(areas[0], "event: assessment.updated") || !strings.Contains(areas[0], `"areaId":"providerEnrollment"`) {
		t.Errorf("first event = %q", areas[0])
	}
	if !strings.Contains(areas[1], "event: assessment.finalized") {
		t.Errorf("second event = %q", areas[1])
	}
	if len(rollups) != 1 {
		t.Errorf("rollup events = %d, want 1 (throttled)", len(rollups))
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithHeartbeat(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishAreaEvent("imported", "providerEnrollment")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, "event: assessment.imported") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Errorf("handler output missing heartbeat: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.PublishProgress(i, "x")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: TypeRollupUpdated})
	b.PublishAreaEvent("updated", "providerEnrollment")
	if ch := b.Subscribe(); ch == nil {
		t.Fatal("Subscribe after close returned nil")
	}
}
