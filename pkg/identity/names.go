package identity

import (
	"math/rand/v2"
)

var (
	nameAdjectives = []string{"Creative", "Inspired", "Talented", "Artistic", "Innovative"}
	nameNouns      = []string{"Creator", "Artist", "Influencer", "Visionary", "Storyteller"}
)

// GenerateDisplayName returns a friendly "<Adjective> <Noun>" name for an
// anonymous identity
func GenerateDisplayName() string {
	return nameAdjectives[rand.IntN(len(nameAdjectives))] + " " + nameNouns[rand.IntN(len(nameNouns))]
}
