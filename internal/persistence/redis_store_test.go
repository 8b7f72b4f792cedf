package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtalk/sttgateway/pkg/commons"
)

type fakeRedisConn struct{ client *redis.Client }

func (f *fakeRedisConn) Client() *redis.Client { return f.client }
func (f *fakeRedisConn) Close() error          { return nil }

func TestRedisStore_Upsert_FirstWriteSetsCreatedAt(t *testing.T) {
	client, mock := redismock.NewClientMock()
	fixed := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	store := &redisStore{redis: &fakeRedisConn{client: client}, logger: commons.NewNopLogger(), now: func() time.Time { return fixed }}

	record := TranscriptRecord{
		RoomID:     "room-1",
		Transcript: []TranscriptSegment{{Text: "hi", SegmentKey: "k1"}},
		CreatedAt:  fixed,
		UpdatedAt:  fixed,
	}
	payload, err := json.Marshal(record)
	require.NoError(t, err)

	mock.ExpectGet("stt:transcript:room-1").RedisNil()
	mock.ExpectSet("stt:transcript:room-1", payload, 0).SetVal("OK")

	require.NoError(t, store.Upsert(context.Background(), TranscriptRecord{
		RoomID:     "room-1",
		Transcript: []TranscriptSegment{{Text: "hi", SegmentKey: "k1"}},
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Upsert_PreservesCreatedAt(t *testing.T) {
	client, mock := redismock.NewClientMock()
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	store := &redisStore{redis: &fakeRedisConn{client: client}, logger: commons.NewNopLogger(), now: func() time.Time { return updated }}

	prev := TranscriptRecord{RoomID: "room-1", CreatedAt: created, UpdatedAt: created}
	prevJSON, err := json.Marshal(prev)
	require.NoError(t, err)

	want := TranscriptRecord{RoomID: "room-1", CreatedAt: created, UpdatedAt: updated}
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectGet("stt:transcript:room-1").SetVal(string(prevJSON))
	mock.ExpectSet("stt:transcript:room-1", wantJSON, 0).SetVal("OK")

	require.NoError(t, store.Upsert(context.Background(), TranscriptRecord{RoomID: "room-1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
