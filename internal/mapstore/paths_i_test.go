package mapstore

import (
	"testing"

	"scmap/internal/objstore"
)

func TestPaths(t *testing.T) {
	h := "0123456789abcdef"
	if got := MapPath(h, "SCM"); got != "maps/01/23/"+h+".scm" {
		t.Fatalf("map path: %s", got)
	}
	if got := ImagePath(h, 1024); got != "map_images/01/23/"+h+"-1024.jpg" {
		t.Fatalf("image path: %s", got)
	}
	if got := MapPath("ab", "scx"); got != "maps/ab/00/ab.scx" {
		t.Fatalf("short hash path: %s", got)
	}
}

func TestImageURLsRequireVersion(t *testing.T) {
	s, err := objstore.NewLocalStore(objstore.Config{LocalDir: t.TempDir(), PublicURL: "https://img.test"})
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	if urls := imageURLs(s, "abcd", 0); len(urls) != 0 {
		t.Fatalf("expected no urls without images, got %v", urls)
	}
	urls := imageURLs(s, "abcd", 3)
	if urls[256] != "https://img.test/map_images/ab/cd/abcd-256.jpg?v=3" {
		t.Fatalf("unexpected url: %s", urls[256])
	}
}

func TestDownloadDisposition(t *testing.T) {
	tests := []struct {
		name, ext, want string
	}{
		{"Lost Temple", "scm", `attachment; filename="Lost Temple.scm"`},
		{`Big "Game" Hunters`, "SCX", `attachment; filename="Big _Game_ Hunters.scx"`},
		{"  \x01 ", "scx", `attachment; filename="map.scx"`},
	}
	for _, tc := range tests {
		if got := downloadDisposition(tc.name, tc.ext); got != tc.want {
			t.Fatalf("downloadDisposition(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}
