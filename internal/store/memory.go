package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blunderlab/blunderlab/internal/models"
)

// Memory is an in-process Store used by tests and throwaway local runs.
// Semantics mirror Postgres closely enough that worker and handler
// logic exercised against it behaves like production.
type Memory struct {
	mu sync.Mutex

	users        map[int64]*models.User
	games        map[int64]*models.Game
	moves        map[int64][]models.Move // by game id
	importJobs   map[int64]*models.ImportJob
	analysisJobs map[int64]*models.AnalysisJob
	stats        map[int64]*models.UserStats

	nextGameID int64
	nextJobID  int64
	nextMoveID int64
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[int64]*models.User),
		games:        make(map[int64]*models.Game),
		moves:        make(map[int64][]models.Move),
		importJobs:   make(map[int64]*models.ImportJob),
		analysisJobs: make(map[int64]*models.AnalysisJob),
		stats:        make(map[int64]*models.UserStats),
	}
}

// AddUser seeds a user row.
func (m *Memory) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UpdateImportMeta(ctx context.Context, userID int64, importedAt time.Time, currentRating *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := importedAt
	u.LastImportAt = &t
	if currentRating != nil {
		r := *currentRating
		u.CurrentRating = &r
	}
	return nil
}

func (m *Memory) InsertGame(ctx context.Context, g *models.Game) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGameID++
	cp := *g
	cp.ID = m.nextGameID
	cp.AnalysisState = models.StateUnanalyzed
	cp.CreatedAt = time.Now().UTC()
	m.games[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) GetGame(ctx context.Context, id int64) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) ListGames(ctx context.Context, userID int64, f GameFilter) ([]models.Game, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.Game
	for _, g := range m.games {
		if g.UserID != userID {
			continue
		}
		if f.Provider != "" && g.Provider != f.Provider {
			continue
		}
		if f.Result != "" && g.Result != f.Result {
			continue
		}
		if f.OpeningECO != "" && g.OpeningECO != f.OpeningECO {
			continue
		}
		if f.AnalysisState != "" && g.AnalysisState != f.AnalysisState {
			continue
		}
		matched = append(matched, *g)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DatePlayed.After(matched[j].DatePlayed)
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *Memory) DeleteGame(ctx context.Context, userID, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok || g.UserID != userID {
		return ErrNotFound
	}
	delete(m.games, gameID)
	delete(m.moves, gameID)
	return nil
}

func (m *Memory) ExistingProviderIDs(ctx context.Context, userID int64, provider models.Provider) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]struct{})
	for _, g := range m.games {
		if g.UserID == userID && g.Provider == provider && g.ProviderID != "" {
			ids[g.ProviderID] = struct{}{}
		}
	}
	return ids, nil
}

func (m *Memory) ClaimForAnalysis(ctx context.Context, gameID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok || g.AnalysisState == models.StateAnalyzed {
		return false, nil
	}
	g.AnalysisState = models.StateInProgress
	return true, nil
}

func (m *Memory) SetAnalysisState(ctx context.Context, gameID int64, state models.AnalysisState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.AnalysisState = state
	return nil
}

func (m *Memory) WriteAnalysis(ctx context.Context, gameID int64, stats GameStatsUpdate, moves []models.Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.AnalysisState = models.StateAnalyzed
	g.Accuracy = stats.Accuracy
	g.AvgCentipawnLoss = stats.AvgCentipawnLoss
	g.NumMoves = stats.NumMoves
	g.NumBlunders = stats.NumBlunders
	g.NumMistakes = stats.NumMistakes
	g.NumInaccuracies = stats.NumInaccuracies
	if stats.OpeningECO != "" {
		g.OpeningECO = stats.OpeningECO
	}
	if stats.OpeningName != "" {
		g.OpeningName = stats.OpeningName
	}
	at := stats.AnalyzedAt
	g.AnalyzedAt = &at

	stored := make([]models.Move, len(moves))
	for i, mv := range moves {
		m.nextMoveID++
		mv.ID = m.nextMoveID
		mv.GameID = gameID
		stored[i] = mv
	}
	m.moves[gameID] = stored
	return nil
}

func (m *Memory) MarkAnalyzedEmpty(ctx context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.AnalysisState = models.StateAnalyzed
	g.Accuracy = nil
	g.AvgCentipawnLoss = nil
	g.NumBlunders, g.NumMistakes, g.NumInaccuracies = 0, 0, 0
	now := time.Now().UTC()
	g.AnalyzedAt = &now
	return nil
}

func (m *Memory) ResetAnalysis(ctx context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	delete(m.moves, gameID)
	g.AnalysisState = models.StateInProgress
	g.AnalyzedAt = nil
	g.Accuracy = nil
	g.AvgCentipawnLoss = nil
	g.NumBlunders, g.NumMistakes, g.NumInaccuracies = 0, 0, 0
	return nil
}

func (m *Memory) UnanalyzedGameIDs(ctx context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, g := range m.games {
		if g.UserID == userID && g.AnalysisState != models.StateAnalyzed {
			ids = append(ids, g.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) CountAnalyzedSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.games {
		if g.UserID == userID && g.AnalysisState == models.StateAnalyzed &&
			g.AnalyzedAt != nil && !g.AnalyzedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListMoves(ctx context.Context, gameID int64) ([]models.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Move, len(m.moves[gameID]))
	copy(out, m.moves[gameID])
	return out, nil
}

func (m *Memory) UpdateCommentary(ctx context.Context, moveID int64, commentary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for gameID, moves := range m.moves {
		for i := range moves {
			if moves[i].ID == moveID {
				m.moves[gameID][i].CoachCommentary = commentary
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateImportJob(ctx context.Context, userID int64) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	j := &models.ImportJob{
		ID:        m.nextJobID,
		UserID:    userID,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	m.importJobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (m *Memory) GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ActiveImportJob(ctx context.Context, userID int64) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.ImportJob
	for _, j := range m.importJobs {
		if j.UserID == userID && (j.Status == models.JobPending || j.Status == models.JobProcessing) {
			if found == nil || j.CreatedAt.After(found.CreatedAt) {
				found = j
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *Memory) MarkImportProcessing(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobProcessing
	j.Progress = 5
	j.StartedAt = &now
	return nil
}

func (m *Memory) SetImportTotal(ctx context.Context, id int64, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return ErrNotFound
	}
	j.TotalGames = total
	return nil
}

func (m *Memory) UpdateImportProgress(ctx context.Context, id int64, imported, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return ErrNotFound
	}
	j.ImportedGames = imported
	j.Progress = progress
	return nil
}

func (m *Memory) CompleteImportJob(ctx context.Context, id int64, imported int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobCompleted
	j.ImportedGames = imported
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

func (m *Memory) FailImportJob(ctx context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.importJobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
	return nil
}

func (m *Memory) CreateAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	j := &models.AnalysisJob{
		ID:        m.nextJobID,
		UserID:    userID,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	m.analysisJobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (m *Memory) GetAnalysisJob(ctx context.Context, id int64) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ActiveAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.AnalysisJob
	for _, j := range m.analysisJobs {
		if j.UserID == userID && (j.Status == models.JobPending || j.Status == models.JobProcessing) {
			if found == nil || j.CreatedAt.After(found.CreatedAt) {
				found = j
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *Memory) MarkAnalysisProcessing(ctx context.Context, id int64, startedAt time.Time, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	t := startedAt
	j.Status = models.JobProcessing
	j.TotalGames = total
	j.StartedAt = &t
	return nil
}

func (m *Memory) ActiveStartedJobs(ctx context.Context, userID int64) ([]models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []models.AnalysisJob
	for _, j := range m.analysisJobs {
		if j.UserID == userID && !j.Status.Terminal() && j.StartedAt != nil {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

func (m *Memory) UpdateAnalysisProgress(ctx context.Context, id int64, analyzed, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	j.AnalyzedGames = analyzed
	j.Progress = progress
	return nil
}

func (m *Memory) CompleteAnalysisJob(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobCompleted
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

func (m *Memory) FailAnalysisJob(ctx context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
	return nil
}

func (m *Memory) CancelAnalysisJob(ctx context.Context, userID, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.analysisJobs[jobID]
	if !ok || j.UserID != userID || j.Status.Terminal() {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = models.JobCancelled
	j.ErrorMessage = "Cancelled by user"
	j.CompletedAt = &now

	for _, g := range m.games {
		if g.UserID == userID && g.AnalysisState == models.StateInProgress {
			g.AnalysisState = models.StateUnanalyzed
		}
	}
	return nil
}

func (m *Memory) RecomputeUserStats(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &models.UserStats{UserID: userID, UpdatedAt: time.Now().UTC()}
	var accSum, cplSum float64
	var analyzed int

	for _, g := range m.games {
		if g.UserID != userID {
			continue
		}
		s.TotalGames++
		switch g.Result {
		case "win":
			s.TotalWins++
		case "loss":
			s.TotalLosses++
		case "draw":
			s.TotalDraws++
		}
		if g.UserColor == models.White {
			s.WhiteGames++
			if g.Result == "win" {
				s.WhiteWins++
			}
		} else {
			s.BlackGames++
			if g.Result == "win" {
				s.BlackWins++
			}
		}
		s.TotalBlunders += g.NumBlunders
		s.TotalMistakes += g.NumMistakes
		s.TotalInaccuracies += g.NumInaccuracies
		if g.AnalysisState == models.StateAnalyzed && g.Accuracy != nil && g.AvgCentipawnLoss != nil {
			analyzed++
			accSum += *g.Accuracy
			cplSum += *g.AvgCentipawnLoss
		}
	}
	if analyzed > 0 {
		acc := accSum / float64(analyzed)
		cpl := cplSum / float64(analyzed)
		s.AvgAccuracy = &acc
		s.AvgCentipawnLoss = &cpl
	}
	m.stats[userID] = s
	return nil
}

func (m *Memory) GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}
