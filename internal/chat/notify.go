package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultNotifyTimeout bounds one push notification request.
const DefaultNotifyTimeout = 3 * time.Second

// NotificationPayload is the body posted to the push endpoint.
type NotificationPayload struct {
	LeagueID      string   `json:"leagueId"`
	SenderID      string   `json:"senderId"`
	SenderName    string   `json:"senderName"`
	Content       string   `json:"content"`
	ActiveUserIDs []string `json:"activeUserIds"`
}

// PushNotifier posts chat notifications to the push function. Results are
// logged only.
type PushNotifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewPushNotifier returns a notifier. An empty endpoint disables it.
func NewPushNotifier(endpoint string, timeout time.Duration) *PushNotifier {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &PushNotifier{endpoint: endpoint, client: &http.Client{}, timeout: timeout}
}

// Notify sends in the background.
func (n *PushNotifier) Notify(payload NotificationPayload, token string) {
	if n == nil || n.endpoint == "" {
		return
	}
	go func() {
		if err := n.Send(context.Background(), payload, token); err != nil {
			log.Debug().Err(err).Str("league_id", payload.LeagueID).Msg("push notification failed")
		}
	}()
}

// Send posts payload and waits for the response, at most the notifier timeout.
func (n *PushNotifier) Send(ctx context.Context, payload NotificationPayload, token string) error {
	if n == nil || n.endpoint == "" {
		return nil
	}
	if payload.ActiveUserIDs == nil {
		payload.ActiveUserIDs = []string{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return transportError("push notification", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return transportError("push notification", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
