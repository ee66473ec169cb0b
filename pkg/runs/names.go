package runs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Pallinder/go-randomdata"

	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// generateRunName reserves a memorable name such as "tender-falcon-1".
// The word pair is drawn from a dictionary; the suffix is the smallest
// positive index the project has not used yet, so resubmissions of the
// same pair count up instead of colliding. Callers hold the project
// mutex, which keeps the name free until the run row commits.
func (s *Service) generateRunName(projectID string) (string, error) {
	return s.nextRunName(projectID, runNameBase())
}

func (s *Service) nextRunName(projectID, base string) (string, error) {
	var name string
	err := s.store.View(func(tx storage.Tx) error {
		for n := 1; ; n++ {
			candidate := fmt.Sprintf("%s-%d", base, n)
			_, err := tx.GetRunByName(projectID, candidate)
			if errors.Is(err, storage.ErrNotFound) {
				name = candidate
				return nil
			}
			if err != nil {
				return err
			}
		}
	})
	return name, err
}

// runNameBase draws an adjective-noun pair and squeezes it into the run
// naming alphabet.
func runNameBase() string {
	adjective := sanitizeNameWord(randomdata.Adjective())
	noun := sanitizeNameWord(randomdata.Noun())
	base := adjective + "-" + noun
	if types.ValidateRunName(base+"-1") != nil {
		return "run"
	}
	return base
}

func sanitizeNameWord(word string) string {
	word = strings.ToLower(word)
	var b strings.Builder
	for _, r := range word {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
