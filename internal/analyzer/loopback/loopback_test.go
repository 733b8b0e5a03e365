package loopback

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDocument(t *testing.T) {
	e := New()
	res, err := e.ExtractDocument(context.Background(), "cnic-extraction", pngImage(t, 640, 480))
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if res.Width != 640 || res.Height != 480 {
		t.Fatalf("unexpected dimensions %dx%d", res.Width, res.Height)
	}
	if res.Fields["tool"] != "cnic-extraction" || res.Fields["format"] != "png" {
		t.Fatalf("unexpected fields %+v", res.Fields)
	}

	if _, err := e.ExtractDocument(context.Background(), "cnic-extraction", nil); err == nil {
		t.Fatalf("expected error for empty image")
	}
	if _, err := e.ExtractDocument(context.Background(), "cnic-extraction", []byte("not an image")); err == nil {
		t.Fatalf("expected error for undecodable image")
	}
}

func TestAnswer(t *testing.T) {
	e := New()
	res, err := e.Answer(context.Background(), "chat-with-pdf", "What is the invoice total?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "[loopback] What is the invoice total?" {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if _, err := e.Answer(context.Background(), "chat-with-pdf", "   "); err == nil {
		t.Fatalf("expected error for empty question")
	}
}
