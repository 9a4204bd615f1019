package audio

import (
	"testing"
	"time"
)

func TestDrain(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	done := make(chan struct{})
	go func() {
		Drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after the channel was closed")
	}
	if len(ch) != 0 {
		t.Errorf("channel still holds %d values", len(ch))
	}
}
