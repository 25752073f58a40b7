package system

import (
	"testing"
	"time"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
)

var (
	_ comic.Clock = (*Clock)(nil)
	_ comic.Clock = Func(nil)
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC)
	clk := Fixed(at)
	if !clk.Now().Equal(at) || !clk.Now().Equal(at) {
		t.Fatalf("expected fixed clock to always return %v", at)
	}
}
