package queue

import (
	"math/rand"

	"github.com/lotline/lotline/internal/models"
)

// Shuffle returns a uniformly random permutation of lots using Fisher-Yates.
// The input slice is left untouched.
func Shuffle(rng *rand.Rand, lots []models.Lot) []models.Lot {
	out := make([]models.Lot, len(lots))
	copy(out, lots)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
