package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// stalledWriter never acknowledges a write until the context ends.
type stalledWriter struct{}

func (stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledWriter) Close() error { return nil }

func TestNew(t *testing.T) {
	e, err := New(AppointmentCreated, "pract-1", "appt-1", map[string]string{"title": "Cita"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("expected id and timestamp to be set")
	}
	if string(e.Payload) != `{"title":"Cita"}` {
		t.Errorf("unexpected payload %s", e.Payload)
	}
}

func TestNew_UnencodablePayload(t *testing.T) {
	if _, err := New(AppointmentCreated, "k", "r", make(chan int)); err == nil {
		t.Error("expected encoding error")
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "book")
	defer span.End()

	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, prefix: "clinic"}
	e, _ := New(VacationRequestApproved, "pract-7", "req-1", map[string]int{"n": 1})

	if err := p.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "clinic.vacation_request.approved" {
		t.Errorf("unexpected topic %s", msg.Topic)
	}
	if string(msg.Key) != "pract-7" {
		t.Errorf("unexpected key %s", msg.Key)
	}
	carrier := &headerCarrier{headers: msg.Headers}
	if carrier.Get("event_type") != VacationRequestApproved {
		t.Errorf("missing event_type header")
	}
	if carrier.Get("traceparent") == "" {
		t.Error("expected traceparent header")
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.ID != e.ID {
		t.Errorf("expected event id %s, got %s", e.ID, decoded.ID)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{w: &fakeWriter{err: errors.New("broker down")}}
	e, _ := New(AppointmentDeleted, "k", "r", nil)
	if err := p.Publish(context.Background(), e); err == nil {
		t.Error("expected error")
	}
}

func TestKafkaPublisher_StalledBrokerTimesOut(t *testing.T) {
	p := &KafkaPublisher{w: stalledWriter{}, timeout: 20 * time.Millisecond}
	e, _ := New(AppointmentCreated, "k", "r", nil)

	start := time.Now()
	err := p.Publish(context.Background(), e)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publish blocked for %s", elapsed)
	}
}

func TestNewKafkaPublisher_DefaultTimeout(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "clinic")
	defer p.Close()
	if p.timeout != DefaultPublishTimeout {
		t.Errorf("expected %s, got %s", DefaultPublishTimeout, p.timeout)
	}
}

func TestKafkaPublisher_TopicWithoutPrefix(t *testing.T) {
	p := &KafkaPublisher{}
	if got := p.Topic(VacationCreated); got != VacationCreated {
		t.Errorf("expected %s, got %s", VacationCreated, got)
	}
}

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	c := &headerCarrier{}
	c.Set("a", "1")
	c.Set("a", "2")
	if len(c.headers) != 1 || c.Get("a") != "2" {
		t.Errorf("expected single overwritten header, got %v", c.headers)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	e, _ := New(VacationCreated, "pract-1", "vac-1", map[string]string{"start": "2025-07-01"})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if line["event_type"] != VacationCreated || line["component"] != "events" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	for _, typ := range []string{AppointmentCreated, AppointmentDeleted} {
		e, _ := New(typ, "k", "r", nil)
		_ = r.Publish(context.Background(), e)
	}
	types := r.Types()
	if len(types) != 2 || types[0] != AppointmentCreated || types[1] != AppointmentDeleted {
		t.Errorf("unexpected types %v", types)
	}
}
