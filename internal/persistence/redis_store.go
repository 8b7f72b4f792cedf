// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realtalk/sttgateway/pkg/commons"
	"github.com/realtalk/sttgateway/pkg/connectors"
)

const redisKeyPrefix = "stt:transcript:"

// redisStore is the default Store implementation, backed by Redis as a
// key-value document store: one JSON document per room.
type redisStore struct {
	redis  connectors.RedisConnector
	logger commons.Logger
	now    func() time.Time
}

// NewRedisStore builds a Redis-backed Store.
func NewRedisStore(redisConn connectors.RedisConnector, logger commons.Logger) Store {
	return &redisStore{redis: redisConn, logger: logger, now: time.Now}
}

func (s *redisStore) Upsert(ctx context.Context, record TranscriptRecord) error {
	key := redisKeyPrefix + record.RoomID
	client := s.redis.Client()

	now := s.now().UTC()
	record.UpdatedAt = now
	record.CreatedAt = now

	existing, err := client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// first write: CreatedAt stands as now.
	case err != nil:
		return fmt.Errorf("failed to read existing transcript record %s: %w", record.RoomID, err)
	default:
		var prev TranscriptRecord
		if jsonErr := json.Unmarshal([]byte(existing), &prev); jsonErr == nil {
			record.CreatedAt = prev.CreatedAt
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript record %s: %w", record.RoomID, err)
	}

	if err := client.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to upsert transcript record %s: %w", record.RoomID, err)
	}

	s.logger.Infow("persisted transcript record",
		"room_id", record.RoomID, "segments", len(record.Transcript), "qa_pairs", len(record.QA))
	return nil
}
