package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

// Result reports which group member answered a notification.
type Result struct {
	Success       bool
	RespondingURL string
}

// Notifier is the media-player notification contract.
type Notifier interface {
	NotifyGroup(ctx context.Context, groupName, event string, entityID int64) (Result, error)
	PingGroup(ctx context.Context, groupName string) (Result, error)
}

// Service notifies configured player groups over HTTP.
type Service struct {
	groups map[string]config.PlayerGroup
	client *http.Client
	logger *slog.Logger
}

// NewService builds a notifier from the configured player groups.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	groups := make(map[string]config.PlayerGroup, len(cfg.Players))
	for _, group := range cfg.Players {
		groups[strings.ToLower(strings.TrimSpace(group.Name))] = group
	}
	return &Service{
		groups: groups,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With(logging.String(logging.FieldComponent, "notify")),
	}
}

type notifyPayload struct {
	Event    string `json:"event"`
	EntityID int64  `json:"entityId,omitempty"`
	SentAt   string `json:"sentAt"`
}

// NotifyGroup posts the event to the group's instances in order, stopping at
// the first one that answers.
func (s *Service) NotifyGroup(ctx context.Context, groupName, event string, entityID int64) (Result, error) {
	group, err := s.group(groupName)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(notifyPayload{
		Event:    event,
		EntityID: entityID,
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode notify payload: %w", err)
	}

	var lastErr error
	for _, baseURL := range group.URLs {
		if err := s.post(ctx, group, baseURL+"/notify", body); err != nil {
			lastErr = err
			s.logger.Debug("player instance unavailable",
				logging.String("group", groupName),
				logging.String("url", baseURL),
				logging.Error(err))
			continue
		}
		return Result{Success: true, RespondingURL: baseURL}, nil
	}
	return Result{}, services.Wrap(services.ErrNetwork, "notify", "notify group",
		fmt.Sprintf("no instance in group %q responded", groupName), lastErr)
}

// PingGroup checks whether any instance in the group is reachable.
func (s *Service) PingGroup(ctx context.Context, groupName string) (Result, error) {
	group, err := s.group(groupName)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for _, baseURL := range group.URLs {
		if err := s.get(ctx, group, baseURL+"/ping"); err != nil {
			lastErr = err
			continue
		}
		return Result{Success: true, RespondingURL: baseURL}, nil
	}
	return Result{}, services.Wrap(services.ErrNetwork, "notify", "ping group",
		fmt.Sprintf("no instance in group %q responded", groupName), lastErr)
}

func (s *Service) group(name string) (config.PlayerGroup, error) {
	group, ok := s.groups[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return config.PlayerGroup{}, services.Wrap(services.ErrNotFound, "notify", "resolve group",
			fmt.Sprintf("player group %q is not configured", name), nil)
	}
	return group, nil
}

func (s *Service) post(ctx context.Context, group config.PlayerGroup, url string, body []byte) error {
	rctx, cancel := s.requestContext(ctx, group)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *Service) get(ctx context.Context, group config.PlayerGroup, url string) error {
	rctx, cancel := s.requestContext(ctx, group)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return s.do(req)
}

func (s *Service) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("player returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) requestContext(ctx context.Context, group config.PlayerGroup) (context.Context, context.CancelFunc) {
	timeout := time.Duration(group.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Noop satisfies Notifier when no player groups are configured.
type Noop struct{}

// NotifyGroup implements Notifier.
func (Noop) NotifyGroup(ctx context.Context, groupName, event string, entityID int64) (Result, error) {
	return Result{Success: true}, nil
}

// PingGroup implements Notifier.
func (Noop) PingGroup(ctx context.Context, groupName string) (Result, error) {
	return Result{Success: true}, nil
}
