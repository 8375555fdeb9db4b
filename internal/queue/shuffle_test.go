package queue

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/lotline/lotline/internal/models"
)

func masterLots(n int) []models.Lot {
	lots := make([]models.Lot, n)
	for i := range lots {
		lots[i] = models.Lot{ID: int64(i + 1), Name: fmt.Sprintf("Lot %d", i+1), BasePrice: int64((i + 1) * 100)}
	}
	return lots
}

func TestShuffleIsPermutation(t *testing.T) {
	lots := masterLots(25)
	rng := rand.New(rand.NewSource(1))

	out := Shuffle(rng, lots)

	if len(out) != len(lots) {
		t.Fatalf("shuffled length %d, want %d", len(out), len(lots))
	}
	seen := make(map[int64]int)
	for _, l := range out {
		seen[l.ID]++
	}
	for _, l := range lots {
		if seen[l.ID] != 1 {
			t.Fatalf("lot %d appears %d times in shuffle", l.ID, seen[l.ID])
		}
	}
}

func TestShuffleLeavesInputUntouched(t *testing.T) {
	lots := masterLots(10)
	rng := rand.New(rand.NewSource(2))

	Shuffle(rng, lots)

	for i, l := range lots {
		if l.ID != int64(i+1) {
			t.Fatalf("input mutated at index %d: %+v", i, l)
		}
	}
}

func TestShuffleVariesAcrossRuns(t *testing.T) {
	lots := masterLots(10)

	orders := make(map[string]bool)
	for seed := int64(0); seed < 20; seed++ {
		out := Shuffle(rand.New(rand.NewSource(seed)), lots)
		key := ""
		for _, l := range out {
			key += fmt.Sprintf("%d,", l.ID)
		}
		orders[key] = true
	}

	if len(orders) < 2 {
		t.Fatalf("20 shuffles produced %d distinct orders", len(orders))
	}
}

func TestShuffleHandlesTinyInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	if out := Shuffle(rng, nil); len(out) != 0 {
		t.Fatalf("shuffle of empty input returned %v", out)
	}
	one := masterLots(1)
	if out := Shuffle(rng, one); len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("shuffle of single lot returned %v", out)
	}
}
