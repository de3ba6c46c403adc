package proxy

import (
	"bytes"
	"testing"
	"time"
)

func TestOutboxControlJumpsAheadOfData(t *testing.T) {
	ob := newOutbox(8)
	ob.pushData([]byte("data1"))
	ob.pushData([]byte("data2"))
	ob.pushControl([]byte("pong"))

	want := []string{"pong", "data1", "data2"}
	for _, w := range want {
		frame, ok := ob.pop()
		if !ok {
			t.Fatalf("pop returned !ok, want %q", w)
		}
		if string(frame) != w {
			t.Errorf("pop = %q, want %q", frame, w)
		}
	}
}

func TestOutboxCloseFrameLinesUpBehindData(t *testing.T) {
	ob := newOutbox(8)
	ob.pushData([]byte("tail"))
	ob.pushClose([]byte("close"))

	want := []string{"tail", "close"}
	for _, w := range want {
		frame, ok := ob.pop()
		if !ok {
			t.Fatalf("pop returned !ok, want %q", w)
		}
		if string(frame) != w {
			t.Errorf("pop = %q, want %q", frame, w)
		}
	}
}

func TestOutboxPushDataBlocksWhenFull(t *testing.T) {
	ob := newOutbox(1)
	ob.pushData([]byte("first"))

	pushed := make(chan bool, 1)
	go func() { pushed <- ob.pushData([]byte("second")) }()

	select {
	case <-pushed:
		t.Fatal("pushData returned while the ring was full")
	case <-time.After(50 * time.Millisecond):
	}

	if frame, ok := ob.pop(); !ok || string(frame) != "first" {
		t.Fatalf("pop = %q, %v", frame, ok)
	}

	select {
	case ok := <-pushed:
		if !ok {
			t.Error("pushData = false after the ring drained")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushData still blocked after the ring drained")
	}
}

func TestOutboxCloseWakesBlockedPush(t *testing.T) {
	ob := newOutbox(1)
	ob.pushData([]byte("first"))

	pushed := make(chan bool, 1)
	go func() { pushed <- ob.pushData([]byte("second")) }()

	time.Sleep(20 * time.Millisecond)
	ob.close()

	select {
	case ok := <-pushed:
		if ok {
			t.Error("pushData = true on a closed outbox")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushData still blocked after close")
	}
}

func TestOutboxCloseDrainsPendingFrames(t *testing.T) {
	ob := newOutbox(8)
	ob.pushData([]byte("pending"))
	ob.pushClose([]byte("close"))
	ob.close()

	if ob.pushControl([]byte("late")) {
		t.Error("pushControl accepted a frame after close")
	}
	if ob.pushData([]byte("late")) {
		t.Error("pushData accepted a frame after close")
	}

	if frame, ok := ob.pop(); !ok || !bytes.Equal(frame, []byte("pending")) {
		t.Fatalf("pop = %q, %v", frame, ok)
	}
	if frame, ok := ob.pop(); !ok || !bytes.Equal(frame, []byte("close")) {
		t.Fatalf("pop = %q, %v", frame, ok)
	}
	if frame, ok := ob.pop(); ok {
		t.Fatalf("pop = %q after drain, want !ok", frame)
	}
}
