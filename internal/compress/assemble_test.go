package compress

import "testing"

func TestAssembleRenames(t *testing.T) {
	tests := map[string]string{
		"image.png":          "image.jpg",
		"label.JPEG":         "label.jpg",
		"archive.tar.gz":     "archive.tar.jpg",
		"photo":              "photo.jpg",
		"":                   "image.jpg",
		"uploads/care.webp":  "uploads/care.jpg",
		"dir.with.dots/scan": "dir.with.dots/scan.jpg",
	}

	for in, want := range tests {
		out := Assemble([]byte{1}, in, OutputType)
		if out.Name != want {
			t.Fatalf("Assemble(%q) name = %q, want %q", in, out.Name, want)
		}
		if out.Type != OutputType {
			t.Fatalf("Assemble(%q) type = %q", in, out.Type)
		}
	}
}
