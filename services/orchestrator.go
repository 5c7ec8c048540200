package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pokemon-battle-system/models"

	"github.com/rs/zerolog/log"
)

const (
	FinishReasonForfeit = "forfeit"
	FinishReasonVictory = "victory"
	FinishReasonTie     = "tie"
	FinishReasonManual  = "finished"
)

// ReplayArchiver stores a finished battle's replay and returns where it lives.
type ReplayArchiver interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// TurnOrchestrator drives a battle through pending → active → finished and runs each turn:
// record decision, call the engine, mark executed or failed, let the AI answer, notify.
// It keeps no battle state of its own; the store and the engine are the source of truth.
type TurnOrchestrator struct {
	Store    *BattleStore
	Engine   Engine
	Agent    *PvEAgent
	Notifier Notifier
	Archive  ReplayArchiver // optional
}

func NewTurnOrchestrator(store *BattleStore, engine Engine, agent *PvEAgent, notifier Notifier, archive ReplayArchiver) *TurnOrchestrator {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if agent == nil {
		agent = NewPvEAgent(0)
	}
	return &TurnOrchestrator{Store: store, Engine: engine, Agent: agent, Notifier: notifier, Archive: archive}
}

// TurnOutcome is the result of one submitted action. For PvE battles it also carries
// the AI's answer; an AI failure is reported in AIError and does not fail the human's turn.
type TurnOutcome struct {
	Decision   *models.TurnDecision `json:"decision"`
	Result     *models.TurnResult   `json:"result,omitempty"`
	AIDecision *models.TurnDecision `json:"aiDecision,omitempty"`
	AIResult   *models.TurnResult   `json:"aiResult,omitempty"`
	AIError    string               `json:"aiError,omitempty"`
	Finished   bool                 `json:"finished"`
	Battle     *models.Battle       `json:"battle,omitempty"`
}

// Replay is the log payload stored on a finished battle.
type Replay struct {
	Logs    []string   `json:"logs"`
	Turn    int        `json:"turn"`
	Summary LogSummary `json:"summary"`
}

// InitializeBattle creates the engine-side battle for a pending battle and activates it.
// When the engine refuses or is unreachable, or the engine id cannot be stored,
// the battle is closed out as finished.
func (o *TurnOrchestrator) InitializeBattle(ctx context.Context, battleID string) (*models.Battle, error) {
	b, err := o.Store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BattleStatusPending {
		return nil, ErrBattleNotPending
	}
	p1, p2 := b.PlayerBySlot(models.SlotP1), b.PlayerBySlot(models.SlotP2)
	if p1 == nil || p2 == nil {
		return nil, ErrOpponentMissing
	}

	names := seatEngineNames(b)
	req := CreateBattleRequest{
		FormatID: EngineFormatID(b.Format),
		P1Name:   names[models.SlotP1],
		P1Team:   BuildTeam(seatRoster(b, p1)),
		P2Name:   names[models.SlotP2],
		P2Team:   BuildTeam(seatRoster(b, p2)),
	}

	engineID, err := o.Engine.CreateBattle(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("component", "orchestrator").Str("battle_id", b.ID).Msg("engine battle creation failed")
		o.abandonInitialization(ctx, b.ID, "")
		return nil, err
	}

	if err := o.Store.SetEngineID(ctx, b.ID, engineID, nil); err != nil {
		o.abandonInitialization(ctx, b.ID, engineID)
		return nil, err
	}
	if err := o.Store.Transition(ctx, b.ID, models.BattleStatusPending, models.BattleStatusActive); err != nil {
		o.abandonInitialization(ctx, b.ID, engineID)
		return nil, err
	}

	b, err = o.Store.GetBattle(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "orchestrator").Str("battle_id", b.ID).Str("engine_battle_id", engineID).
		Str("kind", b.Kind).Msg("battle started")
	o.publish(ctx, battleStartedEvent(b))
	return b, nil
}

// abandonInitialization closes out a battle that never became active. The
// engine-side battle, if one was created, is deleted best-effort.
func (o *TurnOrchestrator) abandonInitialization(ctx context.Context, battleID, engineID string) {
	if engineID != "" {
		if _, err := o.Engine.DeleteBattle(ctx, engineID); err != nil {
			log.Warn().Err(err).Str("component", "orchestrator").Str("battle_id", battleID).
				Str("engine_battle_id", engineID).Msg("could not delete engine battle after failed initialization")
		}
	}
	if err := o.Store.Transition(ctx, battleID, models.BattleStatusPending, models.BattleStatusFinished); err != nil {
		log.Warn().Err(err).Str("component", "orchestrator").Str("battle_id", battleID).Msg("could not close out battle after failed initialization")
	}
}

// SubmitMove records and executes a move. A numeric move is taken as a 1-indexed move slot.
func (o *TurnOrchestrator) SubmitMove(ctx context.Context, battleID, actorID, move string) (*TurnOutcome, error) {
	move = strings.TrimSpace(move)
	if move == "" {
		return nil, fmt.Errorf("%w: move is required", ErrInvalidAction)
	}
	d := models.MoveDecision{Move: CanonicalMoveName(move)}
	if n, err := strconv.Atoi(move); err == nil {
		if n < 1 || n > models.MaxMovesPerMember {
			return nil, fmt.Errorf("%w: move slot %d out of range", ErrInvalidAction, n)
		}
		d = models.MoveDecision{Move: move, Slot: n}
	}
	return o.submit(ctx, battleID, actorID, d)
}

// SubmitSwitch records and executes a switch to the 0-indexed roster member.
func (o *TurnOrchestrator) SubmitSwitch(ctx context.Context, battleID, actorID string, pokemonIndex int) (*TurnOutcome, error) {
	return o.submit(ctx, battleID, actorID, models.SwitchDecision{PokemonIndex: pokemonIndex})
}

func (o *TurnOrchestrator) submit(ctx context.Context, battleID, actorID string, d models.Decision) (*TurnOutcome, error) {
	b, seat, err := o.loadForAction(ctx, battleID, actorID)
	if err != nil {
		return nil, err
	}
	if b.EngineBattleID == nil {
		return nil, ErrNotInitialized
	}
	action, err := BuildAction(d)
	if err != nil {
		return nil, err
	}

	dec, res, err := o.execute(ctx, b, seat, d, action)
	out := &TurnOutcome{Decision: dec, Result: res, Battle: b}
	if err != nil {
		return out, err
	}
	o.publish(ctx, turnResolvedEvent(b, seat, dec))

	if o.finishIfTerminal(ctx, b, res) {
		out.Finished = true
		return out, nil
	}

	if b.Kind == models.BattleKindPvE {
		if ai := b.AIPlayer(); ai != nil {
			o.runAITurn(ctx, b, ai, out)
		}
	}
	return out, nil
}

// loadForAction checks everything that can be checked without the engine:
// the battle exists and is active, the actor holds a seat, and the opponent seat exists.
func (o *TurnOrchestrator) loadForAction(ctx context.Context, battleID, actorID string) (*models.Battle, *models.BattlePlayer, error) {
	b, err := o.Store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != models.BattleStatusActive {
		return nil, nil, ErrBattleNotActive
	}
	seat := b.PlayerByOwner(actorID)
	if seat == nil {
		return nil, nil, ErrNotParticipant
	}
	if b.Opponent(seat) == nil {
		return nil, nil, ErrOpponentMissing
	}
	return b, seat, nil
}

// execute is the single path both human and AI actions take. The decision is committed
// pending before the engine call and closed in a second write afterwards.
func (o *TurnOrchestrator) execute(ctx context.Context, b *models.Battle, seat *models.BattlePlayer, d models.Decision, action string) (*models.TurnDecision, *models.TurnResult, error) {
	turn, err := o.Store.NextTurnNumber(ctx, b.ID, seat.ID)
	if err != nil {
		return nil, nil, err
	}
	dec, err := o.Store.RecordDecision(ctx, b.ID, seat.ID, turn, d)
	if err != nil {
		return nil, nil, err
	}

	other := o.pairedAction(ctx, b, b.Opponent(seat), turn)
	p1Action, p2Action := action, other
	if seat.Slot == models.SlotP2 {
		p1Action, p2Action = other, action
	}

	res, err := o.Engine.SubmitTurn(ctx, *b.EngineBattleID, p1Action, p2Action)
	if err != nil {
		if merr := o.Store.MarkFailed(ctx, dec, failureReason(err)); merr != nil {
			log.Error().Err(merr).Str("component", "orchestrator").Str("decision_id", dec.ID).Msg("could not mark decision failed")
		}
		log.Warn().Err(err).Str("component", "orchestrator").Str("battle_id", b.ID).
			Str("slot", seat.Slot).Int("turn", turn).Msg("engine rejected turn")
		return dec, nil, err
	}

	payload := []byte(res.Raw)
	if len(payload) == 0 {
		if payload, err = json.Marshal(res); err != nil {
			return dec, res, fmt.Errorf("encode turn result: %w", err)
		}
	}
	if err := o.Store.MarkExecuted(ctx, dec, payload); err != nil {
		return dec, res, err
	}
	log.Debug().Str("component", "orchestrator").Str("battle_id", b.ID).Str("slot", seat.Slot).
		Int("turn", turn).Str("action", action).Msg("turn executed")
	return dec, res, nil
}

// pairedAction is the other seat's action for turn: its own decision while that is still
// pending for the same turn number, otherwise the placeholder.
func (o *TurnOrchestrator) pairedAction(ctx context.Context, b *models.Battle, other *models.BattlePlayer, turn int) string {
	if other == nil {
		return DefaultAction
	}
	pending, err := o.Store.PendingDecisionForTurn(ctx, b.ID, other.ID, turn)
	if err != nil || pending == nil {
		return DefaultAction
	}
	d, err := pending.Decision()
	if err != nil {
		return DefaultAction
	}
	action, err := BuildAction(d)
	if err != nil {
		return DefaultAction
	}
	return action
}

// runAITurn answers a human action in a PvE battle within the same request.
func (o *TurnOrchestrator) runAITurn(ctx context.Context, b *models.Battle, ai *models.BattlePlayer, out *TurnOutcome) {
	state, err := o.Engine.GetState(ctx, *b.EngineBattleID)
	if err != nil {
		out.AIError = failureReason(err)
		log.Warn().Err(err).Str("component", "pve").Str("battle_id", b.ID).Msg("could not read state for AI turn")
		return
	}

	d := o.Agent.Decide(state, ai.Slot, b.Difficulty)
	action, err := BuildAction(d)
	if err != nil {
		out.AIError = err.Error()
		return
	}

	dec, res, err := o.execute(ctx, b, ai, d, action)
	out.AIDecision = dec
	if err != nil {
		out.AIError = failureReason(err)
		return
	}
	out.AIResult = res
	o.publish(ctx, turnResolvedEvent(b, ai, dec))

	if o.finishIfTerminal(ctx, b, res) {
		out.Finished = true
	}
}

// finishIfTerminal closes the battle when the turn's logs announce a winner or a tie.
func (o *TurnOrchestrator) finishIfTerminal(ctx context.Context, b *models.Battle, res *models.TurnResult) bool {
	if res == nil {
		return false
	}
	summary := ParseLogs(res.Logs)
	if !summary.Terminal() {
		return false
	}

	var winner *models.BattlePlayer
	reason := FinishReasonTie
	if !summary.Tie {
		reason = FinishReasonVictory
		for slot, name := range seatEngineNames(b) {
			if name == summary.Winner {
				winner = b.PlayerBySlot(slot)
			}
		}
		if winner == nil {
			log.Warn().Str("component", "orchestrator").Str("battle_id", b.ID).Str("winner", summary.Winner).
				Msg("engine winner matches no seat, recording a draw")
		}
	}

	if err := o.complete(ctx, b, winner, reason); err != nil {
		log.Error().Err(err).Str("component", "orchestrator").Str("battle_id", b.ID).Msg("could not finish battle after terminal turn")
		return false
	}
	return true
}

// Forfeit ends an active battle in favour of the other seat. Any participant may forfeit
// at any time; an engine finish failure is logged and does not block it.
func (o *TurnOrchestrator) Forfeit(ctx context.Context, battleID, actorID string) (*models.Battle, error) {
	b, seat, err := o.loadForAction(ctx, battleID, actorID)
	if err != nil {
		return nil, err
	}
	winner := b.Opponent(seat)

	if b.EngineBattleID != nil {
		if _, err := o.Engine.FinishBattle(ctx, *b.EngineBattleID, winner.Slot); err != nil {
			log.Warn().Err(err).Str("component", "orchestrator").Str("battle_id", b.ID).Msg("engine finish failed during forfeit")
		}
	}
	if err := o.complete(ctx, b, winner, FinishReasonForfeit); err != nil {
		return nil, err
	}
	return b, nil
}

// Finish ends an active battle with the given winner slot, or as a draw when winnerSlot is empty.
func (o *TurnOrchestrator) Finish(ctx context.Context, battleID, winnerSlot string) (*models.Battle, error) {
	if winnerSlot != "" && winnerSlot != models.SlotP1 && winnerSlot != models.SlotP2 {
		return nil, fmt.Errorf("%w: winner must be p1, p2 or empty", ErrInvalidAction)
	}
	b, err := o.Store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BattleStatusActive {
		return nil, ErrBattleNotActive
	}
	var winner *models.BattlePlayer
	if winnerSlot != "" {
		if winner = b.PlayerBySlot(winnerSlot); winner == nil {
			return nil, ErrOpponentMissing
		}
	}

	if b.EngineBattleID != nil {
		if _, err := o.Engine.FinishBattle(ctx, *b.EngineBattleID, winnerSlot); err != nil {
			log.Warn().Err(err).Str("component", "orchestrator").Str("battle_id", b.ID).Msg("engine finish failed")
		}
	}
	if err := o.complete(ctx, b, winner, FinishReasonManual); err != nil {
		return nil, err
	}
	return b, nil
}

// complete is the terminal path shared by forfeit, finish and engine-reported endings.
// Only the store update can fail it; replay capture and engine cleanup are best-effort.
func (o *TurnOrchestrator) complete(ctx context.Context, b *models.Battle, winner *models.BattlePlayer, reason string) error {
	if err := o.Store.FinishBattle(ctx, b, winner); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrBattleNotActive
		}
		return err
	}

	ev := log.Info().Str("component", "orchestrator").Str("battle_id", b.ID).Str("reason", reason)
	if winner != nil {
		ev = ev.Str("winner_slot", winner.Slot)
	}
	ev.Msg("battle finished")

	o.publish(ctx, battleFinishedEvent(b, winner, reason))

	if b.EngineBattleID == nil {
		return nil
	}
	o.captureReplay(ctx, b)
	o.cleanupEngine(ctx, b)
	return nil
}

func (o *TurnOrchestrator) captureReplay(ctx context.Context, b *models.Battle) {
	logs, err := o.Engine.GetLogs(ctx, *b.EngineBattleID)
	if err != nil {
		log.Warn().Err(err).Str("component", "replay").Str("battle_id", b.ID).Msg("could not fetch engine logs")
		return
	}
	replay := Replay{Logs: logs.Logs, Turn: logs.Turn, Summary: ParseLogs(logs.Logs)}
	body, err := json.Marshal(replay)
	if err != nil {
		log.Warn().Err(err).Str("component", "replay").Str("battle_id", b.ID).Msg("could not encode replay")
		return
	}

	var replayURL string
	if o.Archive != nil {
		replayURL, err = o.Archive.Upload(ctx, "replays/"+b.ID+".json", body, "application/json")
		if err != nil {
			log.Warn().Err(err).Str("component", "replay").Str("battle_id", b.ID).Msg("replay archive upload failed")
			replayURL = ""
		}
	}
	if err := o.Store.SetReplay(ctx, b.ID, body, replayURL); err != nil {
		log.Warn().Err(err).Str("component", "replay").Str("battle_id", b.ID).Msg("could not store replay")
	}
}

func (o *TurnOrchestrator) cleanupEngine(ctx context.Context, b *models.Battle) {
	ok, err := o.Engine.DeleteBattle(ctx, *b.EngineBattleID)
	if err != nil || !ok {
		log.Warn().Err(err).Str("component", "cleanup").Str("battle_id", b.ID).
			Str("engine_battle_id", *b.EngineBattleID).Msg("engine battle delete failed, leaving it for the sweep")
		return
	}
	if err := o.Store.MarkEngineCleanedUp(ctx, b.ID); err != nil {
		log.Warn().Err(err).Str("component", "cleanup").Str("battle_id", b.ID).Msg("could not mark engine battle cleaned up")
	}
}

// GetState proxies the engine's live state to a participant.
func (o *TurnOrchestrator) GetState(ctx context.Context, battleID, actorID string) (*BattleState, error) {
	b, err := o.participantBattle(ctx, battleID, actorID)
	if err != nil {
		return nil, err
	}
	if b.EngineBattleID == nil {
		return nil, ErrNotInitialized
	}
	return o.Engine.GetState(ctx, *b.EngineBattleID)
}

// GetLogs returns the stored replay for finished battles, otherwise the engine's live logs.
func (o *TurnOrchestrator) GetLogs(ctx context.Context, battleID, actorID string) (*Replay, error) {
	b, err := o.participantBattle(ctx, battleID, actorID)
	if err != nil {
		return nil, err
	}
	if len(b.ReplayLog) > 0 {
		var r Replay
		if err := json.Unmarshal(b.ReplayLog, &r); err == nil {
			return &r, nil
		}
	}
	if b.EngineBattleID == nil {
		return nil, ErrNotInitialized
	}
	logs, err := o.Engine.GetLogs(ctx, *b.EngineBattleID)
	if err != nil {
		return nil, err
	}
	return &Replay{Logs: logs.Logs, Turn: logs.Turn, Summary: ParseLogs(logs.Logs)}, nil
}

// GetBattle returns a battle with its decisions, visible to participants only.
func (o *TurnOrchestrator) GetBattle(ctx context.Context, battleID, actorID string) (*models.Battle, error) {
	b, err := o.participantBattle(ctx, battleID, actorID)
	if err != nil {
		return nil, err
	}
	decs, err := o.Store.ListDecisions(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Decisions = decs
	return b, nil
}

func (o *TurnOrchestrator) participantBattle(ctx context.Context, battleID, actorID string) (*models.Battle, error) {
	b, err := o.Store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b.PlayerByOwner(actorID) == nil {
		return nil, ErrNotParticipant
	}
	return b, nil
}

// CleanupFinished deletes engine battles left behind by finished battles. It returns how many were cleaned.
func (o *TurnOrchestrator) CleanupFinished(ctx context.Context, limit int) (int, error) {
	battles, err := o.Store.FinishedUncleaned(ctx, limit)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for i := range battles {
		b := &battles[i]
		ok, err := o.Engine.DeleteBattle(ctx, *b.EngineBattleID)
		if err != nil || !ok {
			log.Warn().Err(err).Str("component", "cleanup").Str("battle_id", b.ID).Msg("engine battle delete failed")
			continue
		}
		if err := o.Store.MarkEngineCleanedUp(ctx, b.ID); err != nil {
			log.Warn().Err(err).Str("component", "cleanup").Str("battle_id", b.ID).Msg("could not mark engine battle cleaned up")
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// ReportOrphans counts decisions stuck pending for longer than age. Nothing is repaired.
func (o *TurnOrchestrator) ReportOrphans(ctx context.Context, age time.Duration) (int64, error) {
	n, err := o.Store.CountOrphanDecisions(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Str("component", "orphans").Int64("count", n).Dur("older_than", age).
			Msg("pending decisions without engine confirmation")
	}
	return n, nil
}

func (o *TurnOrchestrator) publish(ctx context.Context, ev Event) {
	if len(ev.Recipients) == 0 {
		return
	}
	if err := o.Notifier.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "notifier").Str("battle_id", ev.BattleID).Str("event", ev.Type).Msg("publish failed")
	}
}

// seatRoster is the roster sent to the engine for a seat.
func seatRoster(b *models.Battle, seat *models.BattlePlayer) []models.TeamMember {
	if seat.IsAI {
		return GenerateAITeam()
	}
	if seat.Team != nil && len(seat.Team.Members) > 0 {
		return seat.Team.Members
	}
	return DefaultTeam()
}

// seatEngineNames gives each slot the name used on the engine. The two names always differ
// so a "|win|<name>" line maps back to exactly one seat.
func seatEngineNames(b *models.Battle) map[string]string {
	names := make(map[string]string, 2)
	for _, slot := range []string{models.SlotP1, models.SlotP2} {
		seat := b.PlayerBySlot(slot)
		name := ""
		if seat != nil {
			name = seat.DisplayName
			if name == "" && seat.IsAI {
				name = AIDisplayName
			}
		}
		names[slot] = EngineName(name)
	}
	if names[models.SlotP1] == names[models.SlotP2] {
		p2 := names[models.SlotP2]
		if len(p2) > maxEngineName-2 {
			p2 = p2[:maxEngineName-2]
		}
		names[models.SlotP2] = p2 + " 2"
	}
	return names
}

func failureReason(err error) string {
	var rej *EngineRejectedError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return err.Error()
}
