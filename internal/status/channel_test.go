package status

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/forcetools/orgupgrader/internal/domain"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestChannel_PublishStripsInvalidScreenshot(t *testing.T) {
	c := New(Config{})

	c.Publish("s1", domain.StatusEvent{
		OrgID:      "orgA",
		Type:       domain.EventPhase,
		Screenshot: []byte("definitely not an image"),
	})

	snap := c.Poll("s1")
	if len(snap) != 1 {
		t.Fatalf("Poll length = %d, want 1", len(snap))
	}
	if snap[0].Screenshot != nil {
		t.Error("invalid screenshot was not stripped")
	}
}

func TestChannel_PublishKeepsValidScreenshot(t *testing.T) {
	c := New(Config{})
	shot := pngBytes(t)

	c.Publish("s1", domain.StatusEvent{OrgID: "orgA", Screenshot: shot})

	snap := c.Poll("s1")
	if !bytes.Equal(snap[0].Screenshot, shot) {
		t.Error("valid screenshot was modified")
	}
}

func TestChannel_PollReturnsLatestPerOrg(t *testing.T) {
	c := New(Config{})

	c.Publish("s1", domain.StatusEvent{OrgID: "orgB", Message: "old"})
	c.Publish("s1", domain.StatusEvent{OrgID: "orgA", Message: "a"})
	c.Publish("s1", domain.StatusEvent{OrgID: "orgB", Message: "new"})
	c.Publish("other", domain.StatusEvent{OrgID: "orgC", Message: "elsewhere"})

	snap := c.Poll("s1")
	if len(snap) != 2 {
		t.Fatalf("Poll length = %d, want 2", len(snap))
	}
	if snap[0].OrgID != "orgA" || snap[1].OrgID != "orgB" {
		t.Errorf("order = %s,%s, want orgA,orgB", snap[0].OrgID, snap[1].OrgID)
	}
	if snap[1].Message != "new" {
		t.Errorf("orgB message = %q, want %q", snap[1].Message, "new")
	}
}

func TestChannel_EvictsOldestKeyOnOverflow(t *testing.T) {
	c := New(Config{MaxEntries: 2})

	c.Publish("s1", domain.StatusEvent{OrgID: "org1"})
	c.Publish("s1", domain.StatusEvent{OrgID: "org2"})
	c.Publish("s1", domain.StatusEvent{OrgID: "org3"})

	snap := c.Poll("s1")
	if len(snap) != 2 {
		t.Fatalf("Poll length = %d, want 2", len(snap))
	}
	for _, ev := range snap {
		if ev.OrgID == "org1" {
			t.Error("oldest key org1 was not evicted")
		}
	}
}

func TestChannel_SubscribeDeliversInPublishOrder(t *testing.T) {
	c := New(Config{})
	events, cancel := c.Subscribe("s1")
	defer cancel()

	c.Publish("s1", domain.StatusEvent{OrgID: "orgA", Message: "one"})
	c.Publish("s1", domain.StatusEvent{OrgID: "orgA", Message: "two"})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			got = append(got, ev.Message)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	if got[0] != "one" || got[1] != "two" {
		t.Errorf("delivery order = %v, want [one two]", got)
	}
}

func TestChannel_OversizedScreenshotSplitsPush(t *testing.T) {
	c := New(Config{InlineScreenshotBytes: 8})
	events, cancel := c.Subscribe("s1")
	defer cancel()

	shot := pngBytes(t)
	c.Publish("s1", domain.StatusEvent{OrgID: "orgA", Type: domain.EventPhase, Message: "working", Screenshot: shot})

	first := <-events
	if first.Screenshot != nil {
		t.Error("first push should carry no screenshot")
	}
	if first.Message != "working" {
		t.Errorf("first push message = %q, want %q", first.Message, "working")
	}

	second := <-events
	if second.Type != domain.EventScreenshot {
		t.Errorf("second push type = %q, want %q", second.Type, domain.EventScreenshot)
	}
	if !bytes.Equal(second.Screenshot, shot) {
		t.Error("second push screenshot payload mismatch")
	}
}

func TestChannel_InputSubmittedBeforeAwait(t *testing.T) {
	c := New(Config{})
	c.SubmitInput("s1", "u1", domain.InputVerificationCode, "123456")

	v, err := c.AwaitInput(context.Background(), "s1", "u1", domain.InputVerificationCode, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if v != "123456" {
		t.Errorf("value = %q, want %q", v, "123456")
	}

	// Consumed exactly once: a second wait must time out
	_, err = c.AwaitInput(context.Background(), "s1", "u1", domain.InputVerificationCode, 20*time.Millisecond)
	if !errors.Is(err, ErrInputTimeout) {
		t.Errorf("second AwaitInput error = %v, want ErrInputTimeout", err)
	}
}

func TestChannel_InputUnblocksWaiter(t *testing.T) {
	c := New(Config{})

	done := make(chan string, 1)
	go func() {
		v, _ := c.AwaitInput(context.Background(), "s1", "u1", domain.InputConfirmation, 2*time.Second)
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	c.SubmitInput("s1", "u1", domain.InputConfirmation, "accept")

	select {
	case v := <-done:
		if v != "accept" {
			t.Errorf("value = %q, want %q", v, "accept")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never unblocked")
	}
}

func TestChannel_InputOverwritesPriorUndelivered(t *testing.T) {
	c := New(Config{})
	c.SubmitInput("s1", "u1", domain.InputVerificationCode, "first")
	c.SubmitInput("s1", "u1", domain.InputVerificationCode, "second")

	v, err := c.AwaitInput(context.Background(), "s1", "u1", domain.InputVerificationCode, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if v != "second" {
		t.Errorf("value = %q, want %q", v, "second")
	}
}

func TestChannel_AwaitInputTimesOut(t *testing.T) {
	c := New(Config{})

	start := time.Now()
	_, err := c.AwaitInput(context.Background(), "s1", "u1", domain.InputVerificationCode, 30*time.Millisecond)
	if !errors.Is(err, ErrInputTimeout) {
		t.Fatalf("error = %v, want ErrInputTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("AwaitInput did not return promptly after deadline")
	}
}

func TestChannel_ExpireInputs(t *testing.T) {
	c := New(Config{InputTTL: time.Millisecond})
	c.SubmitInput("s1", "u1", domain.InputVerificationCode, "stale")

	time.Sleep(5 * time.Millisecond)
	c.expireInputs()

	_, err := c.AwaitInput(context.Background(), "s1", "u1", domain.InputVerificationCode, 20*time.Millisecond)
	if !errors.Is(err, ErrInputTimeout) {
		t.Errorf("expired input still delivered, err = %v", err)
	}
}

func TestValidateScreenshot(t *testing.T) {
	if err := ValidateScreenshot(pngBytes(t), DefaultMaxScreenshotBytes); err != nil {
		t.Errorf("valid PNG rejected: %v", err)
	}
	if err := ValidateScreenshot([]byte("junk"), DefaultMaxScreenshotBytes); err == nil {
		t.Error("junk payload accepted")
	}
	if err := ValidateScreenshot(nil, DefaultMaxScreenshotBytes); err == nil {
		t.Error("empty payload accepted")
	}
	if err := ValidateScreenshot(pngBytes(t), 4); err == nil {
		t.Error("oversized payload accepted")
	}
}
