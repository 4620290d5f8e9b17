package server

import "github.com/TohruskyDev/FinalDream/internal/watcher"

// Message types sent to websocket clients.
const (
	TypeImageAdded   = "image.added"
	TypeImageRemoved = "image.removed"
	TypeShutdown     = "server.shutdown"
)

// Message is one JSON frame on /ws.
type Message struct {
	Type  string `json:"type"`
	Path  string `json:"path,omitempty"`
	MTime int64  `json:"mtime,omitempty"`
	// Seq increases by one per live event. Snapshot frames carry the
	// sequence number current when the client connected.
	Seq       int64 `json:"seq"`
	Snapshot  bool  `json:"snapshot,omitempty"`
	Timestamp int64 `json:"timestamp"` // Unix milliseconds when sent
}

func messageType(k watcher.Kind) string {
	if k == watcher.Removed {
		return TypeImageRemoved
	}
	return TypeImageAdded
}
