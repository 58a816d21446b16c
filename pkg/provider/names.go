package provider

import (
	"fmt"
	"math/rand"
	"strings"
)

// Slugify reduces a requested service name to [a-z0-9_-]+. Uppercase is
// folded, runs of any other characters collapse to a single underscore,
// and leading/trailing separators are dropped. An unusable name comes
// back empty; callers fall back to RandomName.
func Slugify(name string) string {
	var b strings.Builder
	pendingSep := false

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_':
			if b.Len() > 0 {
				pendingSep = true
			}
		default:
			if b.Len() > 0 {
				pendingSep = true
			}
		}
	}

	return strings.Trim(b.String(), "-_")
}

var (
	adjectives = []string{
		"agile", "bold", "bright", "calm", "clever", "eager", "fair",
		"fast", "gentle", "happy", "keen", "lively", "merry", "noble",
		"proud", "quick", "quiet", "sharp", "steady", "swift",
	}

	nouns = []string{
		"basin", "canyon", "cloud", "comet", "delta", "dune", "fjord",
		"glacier", "harbor", "island", "lagoon", "meadow", "mesa",
		"prairie", "reef", "ridge", "river", "summit", "tundra", "valley",
	}
)

// RandomName generates an adjective_noun service name. With retry set a
// random digit is appended, the same escape hatch used when the first
// draw collides with an existing service.
func RandomName(retry bool) string {
	name := fmt.Sprintf("%s_%s", adjectives[rand.Intn(len(adjectives))], nouns[rand.Intn(len(nouns))])
	if retry {
		name = fmt.Sprintf("%s%d", name, rand.Intn(10))
	}
	return name
}
