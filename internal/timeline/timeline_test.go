package timeline

import (
	"errors"
	"testing"
	"time"

	"guardian/internal/message"
)

type fakeSender struct {
	sent []message.Envelope
	err  error
}

func (f *fakeSender) Send(env *message.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, *env)
	return nil
}

func TestSendInsertsPendingEntry(t *testing.T) {
	sender := &fakeSender{}
	tl := New(sender)

	m, err := tl.Send(message.NewText("usr_1", "ada", "hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	snapshot := tl.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("len(snapshot) = %d, want 1", len(snapshot))
	}
	if snapshot[0].Delivery != message.DeliveryPending {
		t.Fatalf("snapshot[0].Delivery = %v, want pending", snapshot[0].Delivery)
	}
	if len(sender.sent) != 1 || sender.sent[0].ID != m.ID {
		t.Fatalf("sender received %d envelopes, want 1 with id %s", len(sender.sent), m.ID)
	}
}

func TestSendFailureMarksEntryFailedInPlace(t *testing.T) {
	sender := &fakeSender{err: errors.New("link down")}
	tl := New(sender)

	m, err := tl.Send(message.NewText("usr_1", "ada", "hello"))
	if err == nil {
		t.Fatal("Send() error = nil, want transport error")
	}

	snapshot := tl.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("len(snapshot) = %d, want 1; failed sends must stay visible", len(snapshot))
	}
	if snapshot[0].ID != m.ID || snapshot[0].Delivery != message.DeliveryFailed {
		t.Fatalf("snapshot[0] = %v/%v, want %s/failed", snapshot[0].ID, snapshot[0].Delivery, m.ID)
	}
}

func TestSendRejectsDuplicateID(t *testing.T) {
	tl := New(&fakeSender{})

	m := message.NewText("usr_1", "ada", "hello")
	if _, err := tl.Send(m); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := tl.Send(m); err == nil {
		t.Fatal("second Send() with same id succeeded, want error")
	}
}

func TestApplyEchoConfirmsWithoutMoving(t *testing.T) {
	tl := New(&fakeSender{})

	first, err := tl.Send(message.NewText("usr_1", "ada", "first"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := tl.Send(message.NewText("usr_1", "ada", "second")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// The server's canonical timestamp lands after the second entry,
	// but confirmation must not reorder anything.
	echo := message.Encode(first)
	echo.CreatedAt = time.Now().UTC().Add(time.Minute)
	echo.SenderName = "ada lovelace"
	if err := tl.Apply(echo); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snapshot := tl.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snapshot))
	}
	if snapshot[0].ID != first.ID {
		t.Fatalf("snapshot[0].ID = %q, want %q; confirmation moved the entry", snapshot[0].ID, first.ID)
	}
	if snapshot[0].Delivery != message.DeliveryConfirmed {
		t.Fatalf("snapshot[0].Delivery = %v, want confirmed", snapshot[0].Delivery)
	}
	if snapshot[0].SenderName != "ada lovelace" {
		t.Fatalf("snapshot[0].SenderName = %q, want server value", snapshot[0].SenderName)
	}
}

func TestApplyUnknownIDInsertsByCreationTime(t *testing.T) {
	tl := New(&fakeSender{})

	now := time.Now().UTC()
	later := message.Envelope{
		ID: "msg_late", SenderID: "usr_2", SenderName: "bob",
		CreatedAt: now.Add(time.Minute), Kind: string(message.KindText), Text: "late",
	}
	earlier := message.Envelope{
		ID: "msg_early", SenderID: "usr_2", SenderName: "bob",
		CreatedAt: now, Kind: string(message.KindText), Text: "early",
	}

	if err := tl.Apply(later); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := tl.Apply(earlier); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snapshot := tl.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snapshot))
	}
	if snapshot[0].ID != "msg_early" || snapshot[1].ID != "msg_late" {
		t.Fatalf("order = %q, %q; want msg_early, msg_late", snapshot[0].ID, snapshot[1].ID)
	}
}

func TestApplyEqualTimestampsKeepArrivalOrder(t *testing.T) {
	tl := New(&fakeSender{})

	ts := time.Now().UTC()
	for _, id := range []string{"msg_a", "msg_b", "msg_c"} {
		env := message.Envelope{
			ID: id, SenderID: "usr_2", SenderName: "bob",
			CreatedAt: ts, Kind: string(message.KindText), Text: id,
		}
		if err := tl.Apply(env); err != nil {
			t.Fatalf("Apply(%s) error = %v", id, err)
		}
	}

	snapshot := tl.Snapshot()
	for i, want := range []string{"msg_a", "msg_b", "msg_c"} {
		if snapshot[i].ID != want {
			t.Fatalf("snapshot[%d].ID = %q, want %q", i, snapshot[i].ID, want)
		}
	}
}

func TestApplyDropsMalformedEnvelope(t *testing.T) {
	tl := New(&fakeSender{})

	err := tl.Apply(message.Envelope{ID: "msg_1"})
	if !errors.Is(err, message.ErrMalformedEnvelope) {
		t.Fatalf("Apply() error = %v, want ErrMalformedEnvelope", err)
	}
	if len(tl.Snapshot()) != 0 {
		t.Fatal("malformed envelope entered the timeline")
	}
}

func TestApplyFiltersSystemMessages(t *testing.T) {
	tl := New(&fakeSender{})

	env := message.Envelope{
		ID: "msg_sys", SenderID: message.SystemSenderID,
		CreatedAt: time.Now().UTC(), Kind: string(message.KindText), Text: "bob joined the chat",
	}
	if err := tl.Apply(env); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(tl.Snapshot()) != 0 {
		t.Fatal("system message entered the visible timeline")
	}
}

func TestRetryResendsUnderSameID(t *testing.T) {
	sender := &fakeSender{err: errors.New("link down")}
	tl := New(sender)

	m, _ := tl.Send(message.NewText("usr_1", "ada", "hello"))

	sender.err = nil
	if err := tl.Retry(m.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0].ID != m.ID {
		t.Fatalf("retry sent %d envelopes, want 1 with id %s", len(sender.sent), m.ID)
	}
	if got := tl.Snapshot()[0].Delivery; got != message.DeliveryPending {
		t.Fatalf("delivery after retry = %v, want pending", got)
	}
}

func TestRetryRejectsNonFailedMessage(t *testing.T) {
	tl := New(&fakeSender{})

	m, err := tl.Send(message.NewText("usr_1", "ada", "hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := tl.Retry(m.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("Retry() error = %v, want ErrNotRetryable", err)
	}
	if err := tl.Retry("msg_missing"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Retry() error = %v, want ErrUnknownMessage", err)
	}
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	tl := New(&fakeSender{})
	updates := tl.Subscribe()

	if _, err := tl.Send(message.NewText("usr_1", "ada", "one")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := tl.Send(message.NewText("usr_1", "ada", "two")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// The buffered channel holds one snapshot; it must be the latest.
	select {
	case snapshot := <-updates:
		if len(snapshot) != 2 {
			t.Fatalf("len(snapshot) = %d, want 2 (latest state)", len(snapshot))
		}
	default:
		t.Fatal("no snapshot delivered")
	}
}
