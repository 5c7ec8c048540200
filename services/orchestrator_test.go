package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pokemon-battle-system/models"
)

func TestInitializeBattle_ActivatesAndAnnounces(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)

	if b.Status != models.BattleStatusActive {
		t.Fatalf("status = %s, want active", b.Status)
	}
	if b.EngineBattleID == nil || *b.EngineBattleID != "abc123" {
		t.Fatalf("engine id = %v, want abc123", b.EngineBattleID)
	}
	if len(h.engine.createReqs) != 1 {
		t.Fatalf("engine create calls = %d, want 1", len(h.engine.createReqs))
	}
	req := h.engine.createReqs[0]
	if req.FormatID != "gen9customgame" || req.P1Name != "Ash" || req.P2Name != "Misty" {
		t.Fatalf("unexpected create request: %+v", req)
	}
	if req.P1Team == "" || req.P2Team == "" {
		t.Fatalf("teams must be serialized, got %+v", req)
	}

	started := h.notifier.ofType(EventBattleStarted)
	if len(started) != 1 {
		t.Fatalf("battle.started events = %d, want 1", len(started))
	}
	data := started[0].Data.(BattleStartedData)
	if data.Type != models.BattleKindPvP || data.Format != models.FormatSingles || len(data.Players) != 2 {
		t.Fatalf("unexpected started payload: %+v", data)
	}
	if len(started[0].Recipients) != 2 {
		t.Fatalf("recipients = %v, want both owners", started[0].Recipients)
	}
}

func TestInitializeBattle_EngineFailureClosesBattle(t *testing.T) {
	h := newHarness(t)
	h.engine.createErr = fmt.Errorf("%w: connection refused", ErrEngineUnavailable)
	ctx := context.Background()

	seedTrainer(t, h.db, "user-a", "Ash")
	team := seedTeam(t, h.db, "user-a")
	pending, err := h.mm.CreatePvEBattle(ctx, "user-a", team, models.DifficultyEasy)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.orch.InitializeBattle(ctx, pending.ID)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
	b, _ := h.store.GetBattle(ctx, pending.ID)
	if b.Status != models.BattleStatusFinished {
		t.Fatalf("status = %s, want finished", b.Status)
	}
	if b.EngineBattleID != nil {
		t.Fatalf("engine id must stay unset")
	}

	if _, err := h.orch.InitializeBattle(ctx, pending.ID); !errors.Is(err, ErrBattleNotPending) {
		t.Fatalf("re-initialize err = %v, want ErrBattleNotPending", err)
	}
}

func TestInitializeBattle_StoreFailureDeletesEngineBattle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seedTrainer(t, h.db, "user-a", "Ash")
	team := seedTeam(t, h.db, "user-a")
	pending, err := h.mm.CreatePvEBattle(ctx, "user-a", team, models.DifficultyEasy)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.store.SetEngineID(ctx, pending.ID, "stale", nil); err != nil {
		t.Fatalf("preset engine id: %v", err)
	}

	_, err = h.orch.InitializeBattle(ctx, pending.ID)
	if !errors.Is(err, ErrEngineIDAlreadySet) {
		t.Fatalf("err = %v, want ErrEngineIDAlreadySet", err)
	}
	if len(h.engine.deleted) != 1 || h.engine.deleted[0] != "abc123" {
		t.Fatalf("engine deletes = %v, want [abc123]", h.engine.deleted)
	}
	b, _ := h.store.GetBattle(ctx, pending.ID)
	if b.Status != models.BattleStatusFinished {
		t.Fatalf("status = %s, want finished", b.Status)
	}
	if len(h.notifier.ofType(EventBattleStarted)) != 0 {
		t.Fatalf("abandoned battle must not be announced")
	}
}

func TestSubmitMove_PvPEndToEnd(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	out, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt")
	if err != nil {
		t.Fatalf("submit move: %v", err)
	}
	dec := out.Decision
	if dec.TurnNumber != 1 || dec.Kind != models.DecisionKindMove || dec.Status != models.DecisionStatusExecuted {
		t.Fatalf("decision = turn %d kind %s status %s", dec.TurnNumber, dec.Kind, dec.Status)
	}
	if out.Result == nil || len(out.Result.Logs) == 0 {
		t.Fatalf("expected engine result, got %+v", out.Result)
	}

	if len(h.engine.turns) != 1 {
		t.Fatalf("engine turns = %d, want 1", len(h.engine.turns))
	}
	turn := h.engine.turns[0]
	if turn.BattleID != "abc123" || turn.P1 != ">move thunderbolt" || turn.P2 != DefaultAction {
		t.Fatalf("engine turn = %+v", turn)
	}

	resolved := h.notifier.ofType(EventTurnResolved)
	if len(resolved) != 1 {
		t.Fatalf("turn.resolved events = %d, want 1", len(resolved))
	}
	data := resolved[0].Data.(TurnResolvedData)
	if data.PlayerSlot != models.SlotP1 || data.TurnNumber != 1 || data.PlayerName != "Ash" {
		t.Fatalf("unexpected turn.resolved payload: %+v", data)
	}

	stored := loadDecision(t, h.db, dec.ID)
	if stored.Status != models.DecisionStatusExecuted || len(stored.Result) == 0 {
		t.Fatalf("stored decision not executed with result: %+v", stored)
	}
	d, err := stored.Decision()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mv, ok := d.(models.MoveDecision); !ok || mv.Move != "Thunderbolt" {
		t.Fatalf("payload = %#v", d)
	}
}

func TestSubmitMove_TurnNumbersPerPlayer(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		out, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "1")
		if err != nil {
			t.Fatalf("submit %d: %v", want, err)
		}
		if out.Decision.TurnNumber != want {
			t.Fatalf("turn = %d, want %d", out.Decision.TurnNumber, want)
		}
	}
	out, err := h.orch.SubmitMove(ctx, b.ID, "user-b", "2")
	if err != nil {
		t.Fatalf("submit p2: %v", err)
	}
	if out.Decision.TurnNumber != 1 {
		t.Fatalf("p2 turn = %d, want 1 (independent sequence)", out.Decision.TurnNumber)
	}
	last := h.engine.turns[len(h.engine.turns)-1]
	if last.P1 != DefaultAction || last.P2 != ">move 2" {
		t.Fatalf("p2 submission = %+v", last)
	}
}

func TestSubmitMove_UsesOtherSeatsPendingDecision(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	p2 := b.PlayerBySlot(models.SlotP2)
	if _, err := h.store.RecordDecision(ctx, b.ID, p2.ID, 1, models.SwitchDecision{PokemonIndex: 2}); err != nil {
		t.Fatalf("record p2 decision: %v", err)
	}

	if _, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := h.engine.turns[0].P2; got != ">switch 3" {
		t.Fatalf("p2 action = %q, want >switch 3", got)
	}
}

func TestSubmitMove_RejectsInactiveBattle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedTrainer(t, h.db, "user-a", "Ash")
	seedTrainer(t, h.db, "user-b", "Misty")
	t1 := seedTeam(t, h.db, "user-a")
	t2 := seedTeam(t, h.db, "user-b")

	pending, err := h.mm.CreatePvPBattle(ctx, "user-a", t1, "user-b", t2, models.FormatSingles)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.orch.SubmitMove(ctx, pending.ID, "user-a", "Thunderbolt"); !errors.Is(err, ErrBattleNotActive) {
		t.Fatalf("pending battle err = %v, want ErrBattleNotActive", err)
	}

	if _, err := h.orch.InitializeBattle(ctx, pending.ID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := h.orch.Forfeit(ctx, pending.ID, "user-b"); err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if _, err := h.orch.SubmitSwitch(ctx, pending.ID, "user-a", 1); !errors.Is(err, ErrBattleNotActive) {
		t.Fatalf("finished battle err = %v, want ErrBattleNotActive", err)
	}

	if n := h.decisionCount(t, pending.ID); n != 0 {
		t.Fatalf("decisions recorded = %d, want 0", n)
	}
	if len(h.engine.turns) != 0 {
		t.Fatalf("engine must not be called, got %d turns", len(h.engine.turns))
	}
}

func TestSubmitMove_RejectsNonParticipant(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)

	_, err := h.orch.SubmitMove(context.Background(), b.ID, "intruder", "Thunderbolt")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if n := h.decisionCount(t, b.ID); n != 0 {
		t.Fatalf("decisions recorded = %d, want 0", n)
	}
	if len(h.engine.turns) != 0 {
		t.Fatalf("engine must not be called")
	}
}

func TestSubmit_InvalidInputRejectedBeforeRecording(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
	}{
		{"empty move", func() error { _, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "  "); return err }},
		{"move slot too high", func() error { _, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "7"); return err }},
		{"switch negative", func() error { _, err := h.orch.SubmitSwitch(ctx, b.ID, "user-a", -1); return err }},
		{"switch too high", func() error { _, err := h.orch.SubmitSwitch(ctx, b.ID, "user-a", 6); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, ErrInvalidAction) {
				t.Fatalf("err = %v, want ErrInvalidAction", err)
			}
		})
	}
	if n := h.decisionCount(t, b.ID); n != 0 {
		t.Fatalf("decisions recorded = %d, want 0", n)
	}
}

func TestSubmitMove_EngineRejectionMarksDecisionFailed(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()
	h.engine.turnErr = &EngineRejectedError{StatusCode: 400, Message: "Invalid choice: no PP left"}

	out, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt")
	if !IsEngineRejected(err) {
		t.Fatalf("err = %v, want engine rejection", err)
	}
	if out == nil || out.Decision == nil {
		t.Fatalf("failed decision must be returned")
	}
	stored := loadDecision(t, h.db, out.Decision.ID)
	if stored.Status != models.DecisionStatusFailed || stored.FailureReason != "Invalid choice: no PP left" {
		t.Fatalf("stored = status %s reason %q", stored.Status, stored.FailureReason)
	}
	if len(h.notifier.ofType(EventTurnResolved)) != 0 {
		t.Fatalf("failed turns must not notify")
	}

	// no retry; the next submission is a new decision with the next number
	h.engine.turnErr = nil
	out, err = h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if out.Decision.TurnNumber != 2 {
		t.Fatalf("resubmitted turn = %d, want 2", out.Decision.TurnNumber)
	}
	if len(h.engine.turns) != 2 {
		t.Fatalf("engine turns = %d, want 2", len(h.engine.turns))
	}
}

func TestSubmitMove_EngineUnavailableMarksDecisionFailed(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	h.engine.turnErr = fmt.Errorf("%w: timeout", ErrEngineUnavailable)

	out, err := h.orch.SubmitMove(context.Background(), b.ID, "user-a", "Thunderbolt")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
	if out.Decision.Status != models.DecisionStatusFailed {
		t.Fatalf("status = %s, want failed", out.Decision.Status)
	}
}

func TestSubmitMove_WinLogFinishesBattle(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()
	h.engine.turnResults = []*models.TurnResult{{Turn: 5, Logs: []string{"|faint|p2a: Squirtle", "|win|Ash"}}}

	out, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Finished {
		t.Fatalf("outcome should report the battle finished")
	}

	got, _ := h.store.GetBattle(ctx, b.ID)
	p1 := got.PlayerBySlot(models.SlotP1)
	p2 := got.PlayerBySlot(models.SlotP2)
	if got.Status != models.BattleStatusFinished || got.WinnerID == nil || *got.WinnerID != p1.ID {
		t.Fatalf("battle = status %s winner %v", got.Status, got.WinnerID)
	}
	if p1.IsWinner == nil || !*p1.IsWinner || p2.IsWinner == nil || *p2.IsWinner {
		t.Fatalf("winner flags p1=%v p2=%v", p1.IsWinner, p2.IsWinner)
	}
	if got.WinnerOwnerID == nil || *got.WinnerOwnerID != "user-a" {
		t.Fatalf("winner owner = %v", got.WinnerOwnerID)
	}

	finished := h.notifier.ofType(EventBattleFinished)
	if len(finished) != 1 || finished[0].Data.(BattleFinishedData).Reason != FinishReasonVictory {
		t.Fatalf("battle.finished events = %+v", finished)
	}
}

func TestSubmitMove_TieFinishesAsDraw(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()
	h.engine.turnResults = []*models.TurnResult{{Turn: 9, Logs: []string{"|tie"}}}

	if _, err := h.orch.SubmitMove(ctx, b.ID, "user-b", "1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, _ := h.store.GetBattle(ctx, b.ID)
	if got.Status != models.BattleStatusFinished || got.WinnerID != nil {
		t.Fatalf("battle = status %s winner %v, want finished draw", got.Status, got.WinnerID)
	}
	for _, p := range got.Players {
		if p.IsWinner != nil {
			t.Fatalf("seat %s winner flag = %v, want nil on draw", p.Slot, *p.IsWinner)
		}
	}
}

func TestPvE_HardLowHPSwitches(t *testing.T) {
	h := newHarness(t)
	b := h.activePvE(t, models.DifficultyHard)
	ctx := context.Background()

	h.engine.state = &BattleState{
		ActivePokemon: map[string]*ActivePokemon{
			models.SlotP2: {Name: "Pikachu", HP: 20, MaxHP: 100, Moves: []MoveSlot{{Name: "Thunderbolt", PP: 10}}},
		},
		Teams: map[string][]RosterEntry{
			models.SlotP2: {{Name: "Pikachu", Status: StatusFainted}, {Name: "Blastoise", Status: ""}},
		},
	}

	out, err := h.orch.SubmitMove(ctx, b.ID, "user-a", "Thunderbolt")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.AIError != "" {
		t.Fatalf("AI error: %s", out.AIError)
	}
	if out.AIDecision == nil || out.AIDecision.Kind != models.DecisionKindSwitch {
		t.Fatalf("AI decision = %+v, want a switch", out.AIDecision)
	}
	if out.AIDecision.Status != models.DecisionStatusExecuted || out.AIDecision.TurnNumber != 1 {
		t.Fatalf("AI decision = status %s turn %d", out.AIDecision.Status, out.AIDecision.TurnNumber)
	}

	if len(h.engine.turns) != 2 {
		t.Fatalf("engine turns = %d, want human then AI", len(h.engine.turns))
	}
	if h.engine.turns[0].P1 != ">move thunderbolt" {
		t.Fatalf("human turn = %+v", h.engine.turns[0])
	}
	ai := h.engine.turns[1]
	if ai.P2 != ">switch 2" || ai.P1 != DefaultAction {
		t.Fatalf("AI turn = %+v, want p2 >switch 2 with p1 padded", ai)
	}

	if req := h.engine.createReqs[0]; req.P2Name != AIDisplayName {
		t.Fatalf("AI engine name = %q", req.P2Name)
	}
	if len(h.notifier.ofType(EventTurnResolved)) != 2 {
		t.Fatalf("expected a turn.resolved event for each seat")
	}
}

func TestPvE_HealthyAIPicksMove(t *testing.T) {
	h := newHarness(t)
	b := h.activePvE(t, models.DifficultyNormal)
	h.engine.state = &BattleState{
		ActivePokemon: map[string]*ActivePokemon{
			models.SlotP2: {Name: "Blastoise", HP: 90, MaxHP: 100, Moves: []MoveSlot{{Name: "Hydro Pump", PP: 0}, {Name: "Ice Beam", PP: 5}}},
		},
	}

	out, err := h.orch.SubmitSwitch(context.Background(), b.ID, "user-a", 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.AIDecision == nil || out.AIDecision.Kind != models.DecisionKindMove {
		t.Fatalf("AI decision = %+v, want a move", out.AIDecision)
	}
	if got := h.engine.turns[1].P2; got != ">move 2" {
		t.Fatalf("AI action = %q, want the only move with PP", got)
	}
	if h.engine.turns[0].P1 != ">switch 2" {
		t.Fatalf("human action = %q", h.engine.turns[0].P1)
	}
}

func TestPvE_AIFailureDoesNotFailHumanTurn(t *testing.T) {
	h := newHarness(t)
	b := h.activePvE(t, models.DifficultyEasy)
	h.engine.stateErr = fmt.Errorf("%w: state timeout", ErrEngineUnavailable)

	out, err := h.orch.SubmitMove(context.Background(), b.ID, "user-a", "Thunderbolt")
	if err != nil {
		t.Fatalf("human turn must succeed, got %v", err)
	}
	if out.Decision.Status != models.DecisionStatusExecuted {
		t.Fatalf("human decision status = %s", out.Decision.Status)
	}
	if out.AIError == "" || out.AIDecision != nil {
		t.Fatalf("AI outcome = %+v", out)
	}
}

func TestForfeit_SetsWinnerAndFinishes(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	if _, err := h.orch.Forfeit(ctx, b.ID, "user-a"); err != nil {
		t.Fatalf("forfeit: %v", err)
	}

	got, _ := h.store.GetBattle(ctx, b.ID)
	p1 := got.PlayerBySlot(models.SlotP1)
	p2 := got.PlayerBySlot(models.SlotP2)
	if got.Status != models.BattleStatusFinished {
		t.Fatalf("status = %s, want finished", got.Status)
	}
	if p2.IsWinner == nil || !*p2.IsWinner {
		t.Fatalf("p2 winner flag = %v, want true", p2.IsWinner)
	}
	if p1.IsWinner == nil || *p1.IsWinner {
		t.Fatalf("p1 winner flag = %v, want false", p1.IsWinner)
	}
	if got.WinnerID == nil || *got.WinnerID != p2.ID {
		t.Fatalf("winner id = %v, want p2 seat", got.WinnerID)
	}
	if n := h.decisionCount(t, b.ID); n != 0 {
		t.Fatalf("forfeit must not record decisions, got %d", n)
	}

	if len(h.engine.finishCalls) != 1 || h.engine.finishCalls[0] != "abc123:p2" {
		t.Fatalf("engine finish calls = %v", h.engine.finishCalls)
	}
	if len(h.engine.deleted) != 1 || !got.EngineCleanedUp {
		t.Fatalf("engine battle should be deleted and marked cleaned: %v %v", h.engine.deleted, got.EngineCleanedUp)
	}
	if len(got.ReplayLog) == 0 || got.ReplayURL != "https://cdn.test/replays/"+b.ID+".json" {
		t.Fatalf("replay not stored: url=%q", got.ReplayURL)
	}
	if len(h.notifier.ofType(EventBattleFinished)) != 1 {
		t.Fatalf("expected one battle.finished event")
	}

	if _, err := h.orch.Forfeit(ctx, b.ID, "user-b"); !errors.Is(err, ErrBattleNotActive) {
		t.Fatalf("second forfeit err = %v, want ErrBattleNotActive", err)
	}
}

func TestForfeit_BestEffortEngineCalls(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()
	h.engine.finishErr = fmt.Errorf("%w: down", ErrEngineUnavailable)
	h.engine.deleteErr = fmt.Errorf("%w: down", ErrEngineUnavailable)

	if _, err := h.orch.Forfeit(ctx, b.ID, "user-b"); err != nil {
		t.Fatalf("forfeit must succeed when engine cleanup fails: %v", err)
	}
	got, _ := h.store.GetBattle(ctx, b.ID)
	if got.Status != models.BattleStatusFinished || got.EngineCleanedUp {
		t.Fatalf("battle = status %s cleaned %v", got.Status, got.EngineCleanedUp)
	}

	// the sweep picks it up once the engine is back
	h.engine.deleteErr = nil
	n, err := h.orch.CleanupFinished(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("cleanup = %d, %v; want 1", n, err)
	}
	got, _ = h.store.GetBattle(ctx, b.ID)
	if !got.EngineCleanedUp {
		t.Fatalf("battle should be marked cleaned after the sweep")
	}
}

func TestFinish_Draw(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	if _, err := h.orch.Finish(ctx, b.ID, "p3"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("bad slot err = %v", err)
	}
	got, err := h.orch.Finish(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got.Status != models.BattleStatusFinished || got.WinnerID != nil {
		t.Fatalf("battle = %s winner %v", got.Status, got.WinnerID)
	}
	if h.engine.finishCalls[0] != "abc123:" {
		t.Fatalf("engine finish = %v", h.engine.finishCalls)
	}
}

func TestGetStateAndLogs_ParticipantsOnly(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()
	h.engine.logs = &BattleLogs{Logs: []string{"|turn|1", "|move|p1a: Pikachu|Thunderbolt|p2a: Squirtle", "|turn|2"}, Turn: 2}

	if _, err := h.orch.GetState(ctx, b.ID, "intruder"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("state err = %v, want ErrNotParticipant", err)
	}
	if _, err := h.orch.GetState(ctx, b.ID, "user-b"); err != nil {
		t.Fatalf("state: %v", err)
	}

	replay, err := h.orch.GetLogs(ctx, b.ID, "user-a")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if replay.Summary.Turns != 2 || len(replay.Summary.Events) != 1 {
		t.Fatalf("summary = %+v", replay.Summary)
	}
}

func TestReportOrphans(t *testing.T) {
	h := newHarness(t)
	b := h.activePvP(t)
	ctx := context.Background()

	p1 := b.PlayerBySlot(models.SlotP1)
	dec, err := h.store.RecordDecision(ctx, b.ID, p1.ID, 1, models.MoveDecision{Move: "Tackle"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if n, _ := h.orch.ReportOrphans(ctx, 30*time.Minute); n != 0 {
		t.Fatalf("fresh decision reported as orphan")
	}
	if err := h.db.Model(&models.TurnDecision{}).Where("id = ?", dec.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	n, err := h.orch.ReportOrphans(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if n != 1 {
		t.Fatalf("orphans = %d, want 1", n)
	}
}
