package model

import "strings"

// Supported image sizes. Each size has its own model handle.
var Sizes = []int{64, 128, 256, 512}

// ValidSize reports whether size is one of the supported image sizes.
func ValidSize(size int) bool {
	switch size {
	case 64, 128, 256, 512:
		return true
	}
	return false
}

// ImageTask is one row of a task catalog: a single image classification task.
type ImageTask struct {
	ID              string  `json:"image_id"`
	Size            int     `json:"size"` // pixels; 0 when the catalog row had no usable size
	Crucial         bool    `json:"crucial"`
	Category        string  `json:"category"`
	DeadlineSeconds float64 `json:"deadline"`
}

// ImageID builds the globally reconstructible image id for a catalog row.
func ImageID(id, category string) string {
	return id + "_" + category
}

// TrueClass returns the ground-truth class encoded in an image id: the token
// after the last underscore. Multi-word categories are truncated
// ("128_7_traffic_light" yields "light"); existing result corpora depend on it.
func TrueClass(imageID string) string {
	if i := strings.LastIndex(imageID, "_"); i >= 0 {
		return imageID[i+1:]
	}
	return imageID
}
