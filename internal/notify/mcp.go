package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// MCPSender abstracts the mcp-go server notification method.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToClient(ctx context.Context, method string, params map[string]any) error
}

// MCPNotifier pushes query updates to the MCP client session that issued
// the tool call.
type MCPNotifier struct {
	senderFrom func(ctx context.Context) MCPSender
	debounce   time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // queryID → last progress notification time
}

// NewMCPNotifier creates an MCPNotifier with the given debounce interval
// for running and fetching events. Submitted, completed and failed events
// are always sent immediately.
func NewMCPNotifier(debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &MCPNotifier{
		senderFrom: senderFromContext,
		debounce:   debounce,
		lastSent:   make(map[string]time.Time),
	}
}

// senderFromContext returns the MCP server handling the current tool call,
// or nil outside of one.
func senderFromContext(ctx context.Context) MCPSender {
	if s := server.ServerFromContext(ctx); s != nil {
		return s
	}
	return nil
}

// Notify sends an MCP notification for the given event.
func (n *MCPNotifier) Notify(ctx context.Context, event Event) {
	sender := n.senderFrom(ctx)
	if sender == nil {
		return
	}

	switch event.Type {
	case "query.running", "query.fetching":
		if !n.due(event.QueryID) {
			return
		}
		n.send(ctx, sender, event, "info")
	case "query.submitted":
		n.send(ctx, sender, event, "info")
	case "query.completed":
		n.clearDebounce(event.QueryID)
		n.send(ctx, sender, event, "info")
	case "query.failed":
		n.clearDebounce(event.QueryID)
		n.send(ctx, sender, event, "error")
	default:
		slog.Debug("mcp notifier: unknown event type", "type", event.Type)
	}
}

// due reports whether a progress event for queryID may be sent now.
func (n *MCPNotifier) due(queryID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[queryID]
	if ok && time.Since(last) < n.debounce {
		return false
	}
	n.lastSent[queryID] = time.Now()
	return true
}

// send dispatches a notifications/message to the calling session.
func (n *MCPNotifier) send(ctx context.Context, sender MCPSender, event Event, level string) {
	params := map[string]any{
		"level":  level,
		"logger": "dcsql",
		"data": map[string]any{
			"type":     event.Type,
			"query_id": event.QueryID,
			"message":  event.Message,
		},
	}

	if err := sender.SendNotificationToClient(ctx, "notifications/message", params); err != nil {
		slog.Debug("mcp notification failed",
			"query_id", event.QueryID,
			"type", event.Type,
			"error", err)
	}
}

// clearDebounce removes the debounce entry for a finished query.
func (n *MCPNotifier) clearDebounce(queryID string) {
	n.mu.Lock()
	delete(n.lastSent, queryID)
	n.mu.Unlock()
}
