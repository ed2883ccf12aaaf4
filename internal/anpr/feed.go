// Package anpr receives plate detections from the camera bridge over a
// websocket. Each detection event becomes a pending stay; the bridge gets an
// ack (or an error) per event so it can retry on transient failures.
package anpr

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/registry"
)

const writeTimeout = 10 * time.Second

// DetectionEvent is one camera sighting.
type DetectionEvent struct {
	EventID     string    `json:"event_id"`
	Plate       string    `json:"plate"`
	Country     string    `json:"country"`
	VehicleType string    `json:"vehicle_type"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Ack is the per-event reply.
type Ack struct {
	EventID string `json:"event_id"`
	StayID  int64  `json:"stay_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Feed upgrades camera bridge connections and turns events into stays.
type Feed struct {
	registry *registry.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewFeed builds the feed endpoint.
func NewFeed(reg *registry.Registry, logger *zap.Logger) *Feed {
	return &Feed{
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle is the HTTP handler for the camera bridge endpoint.
func (f *Feed) Handle(w http.ResponseWriter, r *http.Request) {
	camera := r.URL.Query().Get("camera_id")
	if camera == "" {
		http.Error(w, "camera_id is required", http.StatusBadRequest)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	f.logger.Info("camera connected", zap.String("camera_id", camera))

	// The request context dies with the handler; the connection outlives it.
	go f.readLoop(context.Background(), conn, camera)
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, camera string) {
	defer func() {
		conn.Close()
		f.logger.Info("camera disconnected", zap.String("camera_id", camera))
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Warn("camera read failed", zap.String("camera_id", camera), zap.Error(err))
			}
			return
		}

		var event DetectionEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			f.write(conn, Ack{Error: "invalid event payload"})
			continue
		}
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		f.write(conn, f.process(ctx, camera, event))
	}
}

func (f *Feed) process(ctx context.Context, camera string, event DetectionEvent) Ack {
	if models.NormalizePlate(event.Plate) == "" {
		return Ack{EventID: event.EventID, Error: "empty plate"}
	}
	detectedAt := event.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	stay, _, err := f.registry.Detect(ctx, event.Plate, event.Country, event.VehicleType, detectedAt, "anpr:"+camera)
	if err != nil {
		f.logger.Warn("detection rejected",
			zap.String("camera_id", camera),
			zap.String("plate", event.Plate),
			zap.Error(err))
		return Ack{EventID: event.EventID, Error: err.Error()}
	}
	return Ack{EventID: event.EventID, StayID: stay.ID}
}

func (f *Feed) write(conn *websocket.Conn, ack Ack) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(ack); err != nil {
		f.logger.Warn("failed to write ack", zap.Error(err))
	}
}
