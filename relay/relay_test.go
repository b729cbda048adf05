package relay

import "testing"

func TestDedupDropsRepeatedSequence(t *testing.T) {
	d := newDedup()
	if d.Seen("origin-a", 1) {
		t.Fatalf("first sighting should not be reported as seen")
	}
	if !d.Seen("origin-a", 1) {
		t.Fatalf("repeated (origin, seq) should be reported as seen")
	}
	if d.Seen("origin-a", 2) {
		t.Fatalf("different sequence should not collide")
	}
	if d.Seen("origin-b", 1) {
		t.Fatalf("different origin should not collide")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := UserAddPayload{Nick: "alice", User: "a", Host: "example.com", SignonTS: 12345}
	env, err := NewEnvelope(EventUserAdd, "origin-a", 1, 1000, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	var got UserAddPayload
	if err := env.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != payload {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, payload)
	}
}

func TestDeliverSkipsOwnOrigin(t *testing.T) {
	var delivered int
	b := New(Config{}, func(env *Envelope) { delivered++ }, nil)

	env, err := NewEnvelope(EventUserAdd, b.origin, 1, 0, UserAddPayload{Nick: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b.deliver(env)
	if delivered != 0 {
		t.Fatalf("expected own-origin event to be dropped, got %d deliveries", delivered)
	}

	remote, err := NewEnvelope(EventUserAdd, "other-origin", 1, 0, UserAddPayload{Nick: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	b.deliver(remote)
	if delivered != 1 {
		t.Fatalf("expected remote event to be delivered once, got %d", delivered)
	}

	b.deliver(remote) // duplicate (origin, seq)
	if delivered != 1 {
		t.Fatalf("expected duplicate to be dropped, delivered=%d", delivered)
	}
}
