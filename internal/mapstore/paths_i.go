package mapstore

import (
	"fmt"
	"strconv"
	"strings"

	"scmap/internal/mapdata"
	"scmap/internal/objstore"
)

// shard splits the first two hex bytes of a hash into directory levels.
func shard(hash string) string {
	if len(hash) < 4 {
		hash += strings.Repeat("0", 4-len(hash))
	}
	return hash[0:2] + "/" + hash[2:4]
}

// MapPath is where the original file of a map lives.
func MapPath(hash, extension string) string {
	return fmt.Sprintf("maps/%s/%s.%s", shard(hash), hash, mapdata.NormalizeExtension(extension))
}

func ImagePath(hash string, size int) string {
	return fmt.Sprintf("map_images/%s/%s-%d.jpg", shard(hash), hash, size)
}

// imageURLs returns nothing for content that never had images stored. The
// version is appended so regenerated images bypass caches.
func imageURLs(store objstore.Store, hash string, imageVersion int) map[int]string {
	urls := make(map[int]string, len(mapdata.ImageSizes))
	if imageVersion <= 0 {
		return urls
	}
	for _, size := range mapdata.ImageSizes {
		urls[size] = store.URL(ImagePath(hash, size)) + "?v=" + strconv.Itoa(imageVersion)
	}
	return urls
}

// downloadDisposition forces a download named after the uploaded map.
func downloadDisposition(name, extension string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "map"
	}
	return fmt.Sprintf(`attachment; filename="%s.%s"`, clean, mapdata.NormalizeExtension(extension))
}
