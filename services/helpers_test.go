package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"pokemon-battle-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection, otherwise every connection gets its own empty :memory: database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.Trainer{}, &models.Team{}, &models.Battle{}, &models.BattlePlayer{}, &models.TurnDecision{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedTrainer(t *testing.T, db *gorm.DB, externalID, username string) *models.Trainer {
	t.Helper()
	tr := &models.Trainer{ID: uuid.NewString(), ExternalUserID: externalID, Username: username}
	if err := db.Create(tr).Error; err != nil {
		t.Fatalf("seed trainer: %v", err)
	}
	return tr
}

func seedTeam(t *testing.T, db *gorm.DB, ownerID string) *models.Team {
	t.Helper()
	team := &models.Team{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    "Team " + ownerID,
		Members: []models.TeamMember{
			{Name: "Pikachu", Level: 50, Moves: []string{"Thunderbolt", "Quick Attack"}},
			{Name: "Squirtle", Level: 50, Moves: []string{"Water Gun"}},
		},
	}
	if err := db.Create(team).Error; err != nil {
		t.Fatalf("seed team: %v", err)
	}
	return team
}

func loadDecision(t *testing.T, db *gorm.DB, id string) *models.TurnDecision {
	t.Helper()
	var dec models.TurnDecision
	if err := db.First(&dec, "id = ?", id).Error; err != nil {
		t.Fatalf("load decision %s: %v", id, err)
	}
	return &dec
}

type submittedTurn struct {
	BattleID string
	P1, P2   string
}

// fakeEngine records every call and answers from its fields.
type fakeEngine struct {
	mu sync.Mutex

	createID   string
	createErr  error
	createReqs []CreateBattleRequest

	turns       []submittedTurn
	turnErr     error
	turnResults []*models.TurnResult

	state    *BattleState
	stateErr error

	logs *BattleLogs

	finishCalls []string
	finishErr   error

	deleted   []string
	deleteErr error
}

func (f *fakeEngine) CreateBattle(_ context.Context, req CreateBattleRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeEngine) SubmitTurn(_ context.Context, id, p1, p2 string) (*models.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, submittedTurn{BattleID: id, P1: p1, P2: p2})
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	if len(f.turnResults) > 0 {
		res := f.turnResults[0]
		f.turnResults = f.turnResults[1:]
		return res, nil
	}
	n := len(f.turns)
	logs := []string{"|move|p1a: Pikachu|Tackle|p2a: Squirtle", "|turn|" + strconv.Itoa(n+1)}
	raw, _ := json.Marshal(map[string]any{"turn": n, "logs": logs})
	return &models.TurnResult{Turn: n, Logs: logs, Raw: raw}, nil
}

func (f *fakeEngine) GetState(context.Context, string) (*BattleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if f.state == nil {
		return &BattleState{}, nil
	}
	return f.state, nil
}

func (f *fakeEngine) GetLogs(context.Context, string) (*BattleLogs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logs == nil {
		return &BattleLogs{Logs: []string{"|turn|1"}, Turn: 1}, nil
	}
	return f.logs, nil
}

func (f *fakeEngine) FinishBattle(_ context.Context, id, winnerSlot string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls = append(f.finishCalls, id+":"+winnerSlot)
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeEngine) DeleteBattle(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeEngine) ListBattles(context.Context) (*BattleList, error) {
	return &BattleList{}, nil
}

func (f *fakeEngine) Health(context.Context) (*EngineHealth, error) {
	return &EngineHealth{Status: "ok"}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeArchive struct {
	keys []string
}

func (a *fakeArchive) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	a.keys = append(a.keys, key)
	return "https://cdn.test/" + key, nil
}

// harness wires an orchestrator over an in-memory database and fake collaborators.
type harness struct {
	db       *gorm.DB
	store    *BattleStore
	engine   *fakeEngine
	notifier *recordingNotifier
	archive  *fakeArchive
	orch     *TurnOrchestrator
	mm       *Matchmaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	store := NewBattleStore(db)
	engine := &fakeEngine{createID: "abc123"}
	notifier := &recordingNotifier{}
	archive := &fakeArchive{}
	return &harness{
		db:       db,
		store:    store,
		engine:   engine,
		notifier: notifier,
		archive:  archive,
		orch:     NewTurnOrchestrator(store, engine, NewPvEAgent(1), notifier, archive),
		mm:       NewMatchmaker(db, store),
	}
}

// activePvP creates and initializes a PvP battle between user-a (Ash) and user-b (Misty).
func (h *harness) activePvP(t *testing.T) *models.Battle {
	t.Helper()
	ctx := context.Background()
	seedTrainer(t, h.db, "user-a", "Ash")
	seedTrainer(t, h.db, "user-b", "Misty")
	t1 := seedTeam(t, h.db, "user-a")
	t2 := seedTeam(t, h.db, "user-b")

	pending, err := h.mm.CreatePvPBattle(ctx, "user-a", t1, "user-b", t2, models.FormatSingles)
	if err != nil {
		t.Fatalf("create pvp battle: %v", err)
	}
	b, err := h.orch.InitializeBattle(ctx, pending.ID)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b
}

func (h *harness) activePvE(t *testing.T, difficulty string) *models.Battle {
	t.Helper()
	ctx := context.Background()
	seedTrainer(t, h.db, "user-a", "Ash")
	team := seedTeam(t, h.db, "user-a")

	pending, err := h.mm.CreatePvEBattle(ctx, "user-a", team, difficulty)
	if err != nil {
		t.Fatalf("create pve battle: %v", err)
	}
	b, err := h.orch.InitializeBattle(ctx, pending.ID)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b
}

func (h *harness) decisionCount(t *testing.T, battleID string) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&models.TurnDecision{}).Where("battle_id = ?", battleID).Count(&n).Error; err != nil {
		t.Fatalf("count decisions: %v", err)
	}
	return n
}
