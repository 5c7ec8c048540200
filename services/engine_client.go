package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pokemon-battle-system/models"
)

// Engine is the subset of the battle-simulation microservice the orchestrator depends on.
type Engine interface {
	CreateBattle(ctx context.Context, req CreateBattleRequest) (string, error)
	SubmitTurn(ctx context.Context, engineBattleID, p1Action, p2Action string) (*models.TurnResult, error)
	GetState(ctx context.Context, engineBattleID string) (*BattleState, error)
	GetLogs(ctx context.Context, engineBattleID string) (*BattleLogs, error)
	FinishBattle(ctx context.Context, engineBattleID, winnerSlot string) (json.RawMessage, error)
	DeleteBattle(ctx context.Context, engineBattleID string) (bool, error)
	ListBattles(ctx context.Context) (*BattleList, error)
	Health(ctx context.Context) (*EngineHealth, error)
}

// CreateBattleRequest is the body of POST /battle/create. Teams are in team notation.
type CreateBattleRequest struct {
	FormatID string `json:"formatId"`
	P1Name   string `json:"p1name"`
	P1Team   string `json:"p1team"`
	P2Name   string `json:"p2name"`
	P2Team   string `json:"p2team"`
}

type BattleLogs struct {
	Logs []string `json:"logs"`
	Turn int      `json:"turn"`
}

type BattleList struct {
	Battles []json.RawMessage `json:"battles"`
	Total   int               `json:"total"`
}

type EngineHealth struct {
	Status string `json:"status"`
}

// EngineClient talks to the battle engine over HTTP/JSON.
// It holds no state besides its endpoint and timeout.
type EngineClient struct {
	BaseURL string
	Client  *http.Client
}

func NewEngineClient(baseURL string, timeout time.Duration) *EngineClient {
	return &EngineClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// engineFormats maps battle formats to engine format ids.
var engineFormats = map[string]string{
	models.FormatSingles: "gen9customgame",
	models.FormatDoubles: "gen9doublescustomgame",
}

// EngineFormatID returns the engine format id for a battle format.
func EngineFormatID(format string) string {
	if id, ok := engineFormats[format]; ok {
		return id
	}
	return engineFormats[models.FormatSingles]
}

// CreateBattle creates a battle on the engine and returns its id.
func (c *EngineClient) CreateBattle(ctx context.Context, req CreateBattleRequest) (string, error) {
	var out struct {
		BattleID string `json:"battleId"`
		Error    string `json:"error"`
	}
	status, err := c.do(ctx, http.MethodPost, "/battle/create", req, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &EngineRejectedError{StatusCode: status, Message: out.Error}
	}
	if out.BattleID == "" {
		return "", &EngineRejectedError{StatusCode: status, Message: "no battleId in response"}
	}
	return out.BattleID, nil
}

// SubmitTurn sends both sides' actions for one turn.
func (c *EngineClient) SubmitTurn(ctx context.Context, engineBattleID, p1Action, p2Action string) (*models.TurnResult, error) {
	body := map[string]string{
		"battleId": engineBattleID,
		"p1Move":   p1Action,
		"p2Move":   p2Action,
	}
	var raw json.RawMessage
	status, err := c.do(ctx, http.MethodPost, "/battle/turn", body, &raw)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Turn  int      `json:"turn"`
		Logs  []string `json:"logs"`
		Error string   `json:"error"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &EngineRejectedError{StatusCode: status, Message: "malformed turn response: " + err.Error()}
		}
	}
	if parsed.Error != "" {
		return nil, &EngineRejectedError{StatusCode: status, Message: parsed.Error}
	}
	return &models.TurnResult{Turn: parsed.Turn, Logs: parsed.Logs, Raw: raw}, nil
}

// GetState returns the engine's live snapshot of a battle.
func (c *EngineClient) GetState(ctx context.Context, engineBattleID string) (*BattleState, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/battle/state/"+url.PathEscape(engineBattleID), nil, &raw); err != nil {
		return nil, err
	}
	return ParseBattleState(raw)
}

func (c *EngineClient) GetLogs(ctx context.Context, engineBattleID string) (*BattleLogs, error) {
	var out BattleLogs
	if _, err := c.do(ctx, http.MethodGet, "/battle/logs/"+url.PathEscape(engineBattleID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FinishBattle closes the battle on the engine. winnerSlot may be empty for a draw.
func (c *EngineClient) FinishBattle(ctx context.Context, engineBattleID, winnerSlot string) (json.RawMessage, error) {
	body := map[string]string{"battleId": engineBattleID}
	if winnerSlot != "" {
		body["winner"] = winnerSlot
	}
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, "/battle/finish", body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteBattle removes the engine-side battle. A missing battle counts as deleted.
func (c *EngineClient) DeleteBattle(ctx context.Context, engineBattleID string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, "/battle/"+url.PathEscape(engineBattleID), nil, nil)
	if errors.Is(err, ErrEngineNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *EngineClient) ListBattles(ctx context.Context) (*BattleList, error) {
	var out BattleList
	if _, err := c.do(ctx, http.MethodGet, "/battles", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *EngineClient) Health(ctx context.Context) (*EngineHealth, error) {
	var out EngineHealth
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one round-trip. Transport failures and timeouts become ErrEngineUnavailable,
// 404 becomes ErrEngineNotFound, any other non-2xx becomes *EngineRejectedError.
func (c *EngineClient) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode engine request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrEngineUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read %s: %v", ErrEngineUnavailable, path, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrEngineNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &EngineRejectedError{StatusCode: resp.StatusCode, Message: engineErrorMessage(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &EngineRejectedError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return resp.StatusCode, nil
}

// engineErrorMessage pulls "error" or "message" out of an engine error body, else returns it raw.
func engineErrorMessage(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response"
	}
	return msg
}
