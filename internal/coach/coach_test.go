package coach

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/models"
)

type fakeBackend struct {
	calls int
	fail  bool
}

func (f *fakeBackend) Comment(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.fail {
		return "", fmt.Errorf("backend down")
	}
	return fmt.Sprintf("commentary %d", f.calls), nil
}

func badMove(half int, isWhite bool, class models.Classification) models.Move {
	cpl := 200.0
	return models.Move{
		HalfMove: half, MoveNumber: half/2 + 1, IsWhite: isWhite,
		SAN: "Qh5", BestMoveUCI: "g1f3", Classification: class, CentipawnLoss: &cpl,
	}
}

func TestAnnotate(t *testing.T) {
	t.Run("only the user's blunders and mistakes", func(t *testing.T) {
		backend := &fakeBackend{}
		moves := []models.Move{
			badMove(0, true, models.ClassBest),
			badMove(1, false, models.ClassBlunder), // opponent
			badMove(2, true, models.ClassBlunder),
			badMove(4, true, models.ClassMistake),
			badMove(6, true, models.ClassInaccuracy),
		}
		New(backend).Annotate(context.Background(), moves, true, "Italian Game")

		assert.Equal(t, 2, backend.calls)
		assert.Empty(t, moves[0].CoachCommentary)
		assert.Empty(t, moves[1].CoachCommentary)
		assert.NotEmpty(t, moves[2].CoachCommentary)
		assert.NotEmpty(t, moves[3].CoachCommentary)
		assert.Empty(t, moves[4].CoachCommentary)
	})

	t.Run("caps at five per game", func(t *testing.T) {
		backend := &fakeBackend{}
		var moves []models.Move
		for i := 0; i < 8; i++ {
			moves = append(moves, badMove(i*2, true, models.ClassBlunder))
		}
		New(backend).Annotate(context.Background(), moves, true, "")
		assert.Equal(t, 5, backend.calls)
	})

	t.Run("backend failures leave commentary empty", func(t *testing.T) {
		backend := &fakeBackend{fail: true}
		moves := []models.Move{badMove(0, true, models.ClassBlunder)}
		New(backend).Annotate(context.Background(), moves, true, "")
		assert.Empty(t, moves[0].CoachCommentary)
	})

	t.Run("nil backend is a no-op", func(t *testing.T) {
		moves := []models.Move{badMove(0, true, models.ClassBlunder)}
		New(nil).Annotate(context.Background(), moves, true, "")
		assert.Empty(t, moves[0].CoachCommentary)
	})
}

func TestExternalAPIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" Develop your knight first. "}}]}`)
	}))
	defer srv.Close()

	text, err := NewExternalAPI(srv.URL, "sk-test", "gpt-4o-mini").Comment(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Develop your knight first.", text)
}

func TestLocalLLMBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		fmt.Fprint(w, `{"response":"Castle before attacking."}`)
	}))
	defer srv.Close()

	text, err := NewLocalLLM(srv.URL, "llama3").Comment(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Castle before attacking.", text)
}

func TestBuildPrompt(t *testing.T) {
	m := badMove(4, true, models.ClassBlunder)
	prompt := buildPrompt(&m, "Sicilian Defense")
	assert.Contains(t, prompt, "move 3")
	assert.Contains(t, prompt, "White")
	assert.Contains(t, prompt, "Qh5")
	assert.Contains(t, prompt, "blunder")
	assert.Contains(t, prompt, "Sicilian Defense")
}
