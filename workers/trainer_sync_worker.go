package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pokemon-battle-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteProfile is one entry of the profile sync service response.
type RemoteProfile struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// bannedStatuses keep a trainer out of matchmaking.
var bannedStatuses = map[string]bool{
	"banned":      true,
	"suspended":   true,
	"deactivated": true,
}

// TrainerSyncWorker mirrors profile changes into the trainers table used by matchmaking.
type TrainerSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewTrainerSyncWorker(db *gorm.DB, syncServiceBaseURL, endpointPath, serviceToken string, interval time.Duration) *TrainerSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TrainerSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start runs the sync loop until ctx is cancelled.
func (w *TrainerSyncWorker) Start(ctx context.Context) {
	log.Info().Str("component", "sync").Dur("interval", w.interval).Msg("trainer sync worker started")
	go w.run(ctx)
}

func (w *TrainerSyncWorker) run(ctx context.Context) {
	// Backfill from the beginning of time.
	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		log.Warn().Err(err).Str("component", "sync").Msg("initial trainer sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime(ctx)); err != nil {
				log.Error().Err(err).Str("component", "sync").Msg("trainer sync batch failed")
			}
		case <-ctx.Done():
			log.Info().Str("component", "sync").Msg("trainer sync worker stopped")
			return
		}
	}
}

func (w *TrainerSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var last models.Trainer
	err := w.db.WithContext(ctx).Select("updated_at").Order("updated_at DESC").First(&last).Error
	if err != nil || last.UpdatedAt.IsZero() {
		return time.Unix(0, 0)
	}
	return last.UpdatedAt
}

// SyncOnce fetches profiles changed since and upserts them. It returns how many were stored.
func (w *TrainerSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sync service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}

	var payload profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode sync response: %w", err)
	}
	if len(payload.Users) == 0 {
		return 0, nil
	}

	stored := 0
	for _, p := range payload.Users {
		if p.ExternalID == "" || p.Username == "" {
			continue
		}
		t := models.Trainer{
			ID:             uuid.NewString(),
			ExternalUserID: p.ExternalID,
			Username:       p.Username,
			Email:          p.Email,
			AvatarURL:      p.ProfilePictureURL,
			IsBanned:       bannedStatuses[p.AccountStatus],
			CreatedAt:      p.CreatedAt,
			UpdatedAt:      p.UpdatedAt,
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "email", "avatar_url", "is_banned", "updated_at"}),
		}).Create(&t).Error
		if err != nil {
			log.Warn().Err(err).Str("component", "sync").Str("external_id", p.ExternalID).Msg("trainer upsert failed")
			continue
		}
		stored++
	}

	log.Info().Str("component", "sync").Int("received", len(payload.Users)).Int("stored", stored).Msg("trainers synced")
	return stored, nil
}
