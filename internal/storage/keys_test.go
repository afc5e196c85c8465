package storage

import (
	"strings"
	"testing"
)

func TestOutputKeyIsContentAddressed(t *testing.T) {
	a := OutputKey("", "job-1", "label.jpg", []byte("same bytes"))
	b := OutputKey("", "job-1", "label.jpg", []byte("same bytes"))
	c := OutputKey("", "job-1", "label.jpg", []byte("other bytes"))

	if a != b {
		t.Fatalf("expected identical keys for identical data, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different keys for different data, got %s", a)
	}
	if !strings.HasPrefix(a, "outputs/job-1/") || !strings.HasSuffix(a, "-label.jpg") {
		t.Fatalf("unexpected key layout: %s", a)
	}
}

func TestUploadKey(t *testing.T) {
	if got := UploadKey("job-9"); got != "uploads/job-9/source" {
		t.Fatalf("expected uploads/job-9/source, got %s", got)
	}
}
