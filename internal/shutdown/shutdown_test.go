package shutdown

import (
	"testing"
	"time"
)

func TestRequestStopReleasesDone(t *testing.T) {
	c := New()
	defer c.Close()

	if c.Stopped() {
		t.Fatal("expected Stopped() == false before any stop request")
	}

	c.RequestStop()

	select {
	case <-c.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Done() did not close within 100ms of RequestStop")
	}

	if !c.Stopped() {
		t.Error("expected Stopped() == true after RequestStop")
	}
}

func TestRequestStopIdempotent(t *testing.T) {
	c := New()
	defer c.Close()

	c.RequestStop()
	c.RequestStop()

	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done() closed after RequestStop")
	}
}
