package authflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/naballard/authflow/store/memory"
)

func TestChannelSinkDelivery(t *testing.T) {
	sink := NewChannelSink(8)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8, DropIfFull: true}, sink)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess, UserID: "u1", Success: true})
	d.Close()

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventLoginSuccess || ev.UserID != "u1" || !ev.Success {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestJSONWriterSinkLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8, DropIfFull: true}, sink)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventRefreshReuseDetected, UserID: "u1", Error: "REFRESH_TOKEN_REUSED"})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout, UserID: "u1", Success: true})
	d.Close()

	var events []AuditEvent
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != auditEventRefreshReuseDetected || events[0].Error != "REFRESH_TOKEN_REUSED" {
		t.Fatalf("first event: %+v", events[0])
	}
	if events[1].EventType != auditEventLogout {
		t.Fatalf("second event: %+v", events[1])
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the
	// rest are dropped.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})
	}

	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("no events dropped")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(block)
	d.Close()
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled audit should return nil dispatcher")
	}
	// Nil dispatchers are safe to use.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestAuditTimestampFollowsEngineClock(t *testing.T) {
	sink := NewChannelSink(8)
	mailer := newMockMailer()

	engine, err := New().
		WithConfig(testConfig()).
		WithStore(memory.New()).
		WithMailer(mailer).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine.now = clock.Now
	clock.Advance(48 * time.Hour)

	if err := engine.RequestOTP(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventOTPRequested {
			t.Fatalf("event type = %q, want %q", ev.EventType, auditEventOTPRequested)
		}
		if !ev.Timestamp.Equal(clock.Now().UTC()) {
			t.Fatalf("timestamp = %v, want clock time %v", ev.Timestamp, clock.Now().UTC())
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.release
}
