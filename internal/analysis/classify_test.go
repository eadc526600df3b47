package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blunderlab/blunderlab/internal/models"
)

func fp(v float64) *float64 { return &v }

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		name       string
		cpl        float64
		before     *float64
		after      *float64
		want       models.Classification
	}{
		{"tiny loss is best", 5, fp(20), fp(15), models.ClassBest},
		{"small loss is excellent", 20, fp(50), fp(30), models.ClassExcellent},
		{"moderate loss is good", 40, nil, nil, models.ClassGood},
		{"winning to losing is a blunder", 250, fp(200), fp(-200), models.ClassBlunder},
		{"equal to losing is a blunder", 180, fp(10), fp(-250), models.ClassBlunder},
		{"slight edge to losing is a blunder", 170, fp(100), fp(-220), models.ClassBlunder},
		{"huge loss is a blunder regardless", 350, fp(0), fp(-350), models.ClassBlunder},
		{"huge loss without evals is a blunder", 320, nil, nil, models.ClassBlunder},
		{"winning shrunk to equal is a mistake", 200, fp(260), fp(80), models.ClassMistake},
		{"big edge shrunk is a mistake", 160, fp(280), fp(120), models.ClassMistake},
		{"mid loss is a mistake", 200, fp(600), fp(400), models.ClassMistake},
		{"small loss still fine is inaccuracy", 80, fp(20), fp(100), models.ClassInaccuracy},
		{"small loss while losing is a mistake", 80, fp(-50), fp(-130), models.ClassMistake},
		{"small loss without evals is inaccuracy", 80, nil, nil, models.ClassInaccuracy},
		{"negative cpl uses magnitude", -40, fp(0), fp(40), models.ClassGood},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.cpl, tc.before, tc.after))
		})
	}
}

func TestPhase(t *testing.T) {
	t.Run("first twenty plies are the opening", func(t *testing.T) {
		assert.Equal(t, PhaseOpening, Phase(0, 60))
		assert.Equal(t, PhaseOpening, Phase(19, 60))
	})
	t.Run("endgame from ply forty", func(t *testing.T) {
		assert.Equal(t, PhaseEndgame, Phase(40, 120))
		assert.Equal(t, PhaseEndgame, Phase(75, 120))
	})
	t.Run("short games hit the endgame by proportion", func(t *testing.T) {
		assert.Equal(t, PhaseEndgame, Phase(25, 30))
	})
	t.Run("everything else is the middlegame", func(t *testing.T) {
		assert.Equal(t, PhaseMiddlegame, Phase(25, 120))
		assert.Equal(t, PhaseMiddlegame, Phase(39, 120))
	})
}
