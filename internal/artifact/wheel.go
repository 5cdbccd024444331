package artifact

import (
	"path"
	"strings"

	"github.com/WhoopInc/mkwheelhouse/internal/objectstore"
)

// WheelSuffix identifies wheel files by name.
const WheelSuffix = ".whl"

// Wheel is a wheel object currently present in the wheelhouse.
type Wheel struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// IsWheel reports whether key names a wheel file.
func IsWheel(key string) bool {
	return strings.HasSuffix(key, WheelSuffix) && len(path.Base(key)) > len(WheelSuffix)
}

// InPrefix reports whether key lives directly in prefix. Keys in deeper
// sub-prefixes do not match. An empty prefix matches every key.
func InPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path.Dir(key) == prefix
}

// FromObjects turns a bucket listing into wheels, keeping listing order.
func FromObjects(objs []objectstore.Object, prefix string, urlFor func(key string) (string, error)) ([]Wheel, error) {
	var wheels []Wheel
	for _, obj := range objs {
		if !IsWheel(obj.Key) || !InPrefix(obj.Key, prefix) {
			continue
		}
		u, err := urlFor(obj.Key)
		if err != nil {
			return nil, err
		}
		wheels = append(wheels, Wheel{Key: obj.Key, Filename: path.Base(obj.Key), URL: u})
	}
	return wheels, nil
}
