package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"draftclinic/internal/config"
	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards new activity log entries to the configured URLs.
// Each URL keeps its own cursor; a failed delivery is retried on the next poll.
type WebhookDispatcher struct {
	engine   engine.Engine
	cfg      config.Webhooks
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	filter   actionFilter

	mu      sync.Mutex
	cursors map[string]int64
}

func NewWebhookDispatcher(e engine.Engine, cfg config.Webhooks, logger *slog.Logger) *WebhookDispatcher {
	timeout := defaultWebhookTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	interval := defaultWebhookInterval
	if cfg.PollSeconds > 0 {
		interval = time.Duration(cfg.PollSeconds) * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:   e,
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "webhooks"),
		interval: interval,
		filter:   newActionFilter(cfg.Actions),
		cursors:  make(map[string]int64),
	}
}

// StartWebhookDispatcher runs a dispatcher until ctx is cancelled.
// It does nothing when webhooks are disabled.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, cfg config.Webhooks, logger *slog.Logger) {
	if !cfg.Enabled || len(cfg.URLs) == 0 {
		return
	}
	d := NewWebhookDispatcher(e, cfg, logger)
	go d.Run(ctx)
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for _, url := range d.cfg.URLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		d.dispatch(ctx, url)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, url string) {
	cursor, ok := d.cursorFor(ctx, url)
	if !ok {
		return
	}
	entries, err := d.engine.Repo.ListActivity(ctx, repo.ActivityFilters{
		Ascending: true,
		AfterID:   cursor,
		Limit:     defaultWebhookBatch,
	})
	if err != nil {
		d.logger.Warn("fetch activity failed", "error", err)
		return
	}
	for _, entry := range entries {
		if !d.filter.match(string(entry.Action)) {
			d.setCursor(url, entry.ID)
			continue
		}
		if err := d.post(ctx, url, entry); err != nil {
			d.logger.Warn("delivery failed", "url", url, "entry_id", entry.ID, "error", err)
			return
		}
		d.setCursor(url, entry.ID)
	}
}

// cursorFor starts new URLs at the end of the log so history is not replayed.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, url string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[url]; ok {
		return cur, true
	}
	cur, err := d.engine.Repo.LatestActivityID(ctx)
	if err != nil {
		d.logger.Warn("init cursor failed", "url", url, "error", err)
		return 0, false
	}
	d.cursors[url] = cur
	return cur, true
}

func (d *WebhookDispatcher) setCursor(url string, value int64) {
	d.mu.Lock()
	d.cursors[url] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID              int64          `json:"id"`
	Action          string         `json:"action_type"`
	RequestID       string         `json:"request_id"`
	ActorID         string         `json:"actor_id"`
	Title           string         `json:"title,omitempty"`
	Description     string         `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	VisibleToClient bool           `json:"visible_to_client"`
	CreatedAt       string         `json:"created_at"`
}

// Sign returns the signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, entry domain.ActivityLogEntry) error {
	data, err := json.Marshal(webhookEvent{
		ID:              entry.ID,
		Action:          string(entry.Action),
		RequestID:       entry.RequestID,
		ActorID:         entry.ActorID,
		Title:           entry.Title,
		Description:     entry.Description,
		Metadata:        entry.Metadata,
		VisibleToClient: entry.VisibleToClient,
		CreatedAt:       entry.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Draftclinic-Event", string(entry.Action))
	req.Header.Set("X-Draftclinic-Delivery", fmt.Sprintf("%d", entry.ID))
	if strings.TrimSpace(d.cfg.Secret) != "" {
		req.Header.Set("X-Draftclinic-Signature", Sign(d.cfg.Secret, data))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if key := strings.TrimSpace(a); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
