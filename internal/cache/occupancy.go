// Package cache mirrors the live spot board in redis so dashboards can poll
// it without touching the store. The store stays the source of truth; the
// board is rebuilt from it on startup.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"camperpark/internal/models"
)

const (
	boardKey = "occupancy:board"

	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
)

// NewClient returns a configured go-redis client and validates the
// connection with PING.
func NewClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("cache: redis addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// SpotOccupancy is one occupied spot on the board.
type SpotOccupancy struct {
	SpotID     int64           `json:"spot_id"`
	SpotType   models.SpotType `json:"spot_type"`
	SpotNumber int             `json:"spot_number"`
	StayID     int64           `json:"stay_id"`
	Plate      string          `json:"plate"`
	Since      time.Time       `json:"since"`
}

// OccupancyBoard keeps the board in a single redis hash keyed by spot id.
type OccupancyBoard struct {
	client *redis.Client
}

// NewOccupancyBoard builds the board over an existing client.
func NewOccupancyBoard(client *redis.Client) *OccupancyBoard {
	return &OccupancyBoard{client: client}
}

// SetOccupied records a spot as held by a stay.
func (b *OccupancyBoard) SetOccupied(ctx context.Context, spot models.ParkingSpot, stay models.Stay, plate string) error {
	since := time.Now().UTC()
	if stay.CheckInTime != nil {
		since = *stay.CheckInTime
	}
	payload, err := json.Marshal(SpotOccupancy{
		SpotID:     spot.ID,
		SpotType:   spot.SpotType,
		SpotNumber: spot.SpotNumber,
		StayID:     stay.ID,
		Plate:      plate,
		Since:      since,
	})
	if err != nil {
		return fmt.Errorf("cache: marshal occupancy: %w", err)
	}
	return b.client.HSet(ctx, boardKey, strconv.FormatInt(spot.ID, 10), payload).Err()
}

// ClearSpot removes a spot from the board.
func (b *OccupancyBoard) ClearSpot(ctx context.Context, spotID int64) error {
	return b.client.HDel(ctx, boardKey, strconv.FormatInt(spotID, 10)).Err()
}

// Board returns all occupied spots.
func (b *OccupancyBoard) Board(ctx context.Context) ([]SpotOccupancy, error) {
	raw, err := b.client.HGetAll(ctx, boardKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SpotOccupancy, 0, len(raw))
	for _, value := range raw {
		var occ SpotOccupancy
		if err := json.Unmarshal([]byte(value), &occ); err != nil {
			return nil, fmt.Errorf("cache: decode occupancy: %w", err)
		}
		out = append(out, occ)
	}
	return out, nil
}

// Rebuild replaces the board with the given occupancies, dropping stale
// entries from a previous run.
func (b *OccupancyBoard) Rebuild(ctx context.Context, occupancies []SpotOccupancy) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, boardKey)
	for _, occ := range occupancies {
		payload, err := json.Marshal(occ)
		if err != nil {
			return fmt.Errorf("cache: marshal occupancy: %w", err)
		}
		pipe.HSet(ctx, boardKey, strconv.FormatInt(occ.SpotID, 10), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}
