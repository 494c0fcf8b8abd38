package detectors

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/vulnscan/scanengine/pkg/model"
)

// dedup removes findings whose (kind, location, input_name) key repeats,
// preserving the order of first occurrence. This is idempotent: running it
// twice over its own output is a no-op, since every key is already unique.
func dedup(findings []taggedFinding) []model.Finding {
	seen := make(map[uint64]bool, len(findings))
	out := make([]model.Finding, 0, len(findings))
	for _, tf := range findings {
		key := dedupKey(tf.Kind, tf.Location, tf.InputName)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tf.Finding)
	}
	return out
}

func dedupKey(kind, location, inputName string) uint64 {
	h := murmur3.New64()
	h.Write([]byte(fmt.Sprintf("%s|%s|%s", kind, location, inputName)))
	return h.Sum64()
}
