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

	"gorm.io/gorm"

	"github.com/realtalk/sttgateway/pkg/connectors"
)

// transcriptRow is the gorm model backing the Postgres-backed Store
// variant: a connector-scoped *gorm.DB, an UPDATE...WHERE for the common
// case, Create for the first write.
type transcriptRow struct {
	RoomID     string    `gorm:"primaryKey;column:room_id"`
	QA         string    `gorm:"column:qa"`
	Transcript string    `gorm:"column:transcript"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (transcriptRow) TableName() string { return "transcripts" }

type postgresStore struct {
	postgres connectors.PostgresConnector
	now      func() time.Time
}

// NewPostgresStore builds a Postgres/gorm-backed Store, an alternate to
// the Redis-backed default for operators who want SQL queryability over
// the persisted transcript/QA documents.
func NewPostgresStore(postgres connectors.PostgresConnector) Store {
	return &postgresStore{postgres: postgres, now: time.Now}
}

func (s *postgresStore) Upsert(ctx context.Context, record TranscriptRecord) error {
	qaJSON, err := json.Marshal(record.QA)
	if err != nil {
		return fmt.Errorf("failed to marshal qa pairs for room %s: %w", record.RoomID, err)
	}
	transcriptJSON, err := json.Marshal(record.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript segments for room %s: %w", record.RoomID, err)
	}

	now := s.now().UTC()
	db := s.postgres.DB(ctx)

	var existing transcriptRow
	err = db.Where("room_id = ?", record.RoomID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := transcriptRow{
			RoomID:     record.RoomID,
			QA:         string(qaJSON),
			Transcript: string(transcriptJSON),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert transcript record %s: %w", record.RoomID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up transcript record %s: %w", record.RoomID, err)
	}

	result := db.Model(&transcriptRow{}).Where("room_id = ?", record.RoomID).Updates(map[string]interface{}{
		"qa":         string(qaJSON),
		"transcript": string(transcriptJSON),
		"updated_at": now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update transcript record %s: %w", record.RoomID, result.Error)
	}
	return nil
}
