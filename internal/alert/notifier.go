// Package alert pushes trade notifications to an external webhook.
// Messages are buffered and sent in batches so a burst of stop-loss
// closes does not turn into a burst of HTTP calls.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/executor"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting
// is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(message string) error { return nil }

// Close does nothing and returns nil.
func (n *NoOpNotifier) Close() error { return nil }

// WebhookNotifier posts buffered messages to a webhook URL as JSON.
type WebhookNotifier struct {
	url            string
	client         *http.Client
	logger         *zap.Logger
	bufferInterval time.Duration

	mu     sync.Mutex
	buffer []string
	closed bool

	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewWebhookNotifier creates a WebhookNotifier and starts its flush loop.
func NewWebhookNotifier(url string, bufferInterval time.Duration, logger *zap.Logger) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook URL must be configured")
	}
	if bufferInterval <= 0 {
		bufferInterval = time.Minute
	}

	n := &WebhookNotifier{
		url:            url,
		client:         &http.Client{Timeout: 10 * time.Second},
		logger:         logger,
		bufferInterval: bufferInterval,
		shutdownChan:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n, nil
}

// Send queues a message for the next flush.
func (n *WebhookNotifier) Send(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("notifier is closed")
	}
	n.buffer = append(n.buffer, message)
	return nil
}

// Close stops the flush loop and sends any remaining messages.
func (n *WebhookNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.shutdownChan)
	n.wg.Wait()
	n.flush()
	return nil
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.bufferInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.shutdownChan:
			return
		}
	}
}

func (n *WebhookNotifier) flush() {
	n.mu.Lock()
	if len(n.buffer) == 0 {
		n.mu.Unlock()
		return
	}
	messages := n.buffer
	n.buffer = nil
	n.mu.Unlock()

	payload, err := json.Marshal(map[string]string{
		"content": strings.Join(messages, "\n"),
	})
	if err != nil {
		n.logger.Error("failed to encode alert payload", zap.Error(err))
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("failed to post alert", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Error("webhook rejected alert", zap.Int("status", resp.StatusCode))
	}
}

// FormatCloseEvent renders a position-close event as an alert message.
func FormatCloseEvent(ev executor.Event) string {
	return fmt.Sprintf("[%s] %s %s %s x %s closed at %s, pnl %s",
		ev.Reason, ev.AccountID, ev.Side, ev.Symbol,
		ev.Quantity, ev.Price, ev.RealizedPnL)
}
