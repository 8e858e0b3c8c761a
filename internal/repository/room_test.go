package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockRoomDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RoomRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewRoomRepository(db, logger)

	return db, mock, repo
}

func boolPtr(b bool) *bool { return &b }

func TestUpdateLiveStatus_AcknowledgedOnly(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE rooms SET acknowledged = \$1`).
		WithArgs(true, "ward_A", "room_301").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateLiveStatus(context.Background(), "ward_A", "room_301", LiveStatusUpdate{
		Acknowledged: boolPtr(true),
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLiveStatus_BothFields(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE rooms SET fall_detected = \$1, acknowledged = \$2`).
		WithArgs(false, false, "ward_A", "room_301").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateLiveStatus(context.Background(), "ward_A", "room_301", LiveStatusUpdate{
		FallDetected: boolPtr(false),
		Acknowledged: boolPtr(false),
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLiveStatus_NoFieldsIsNoop(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	// nil 字段不写：不应触达数据库
	err := repo.UpdateLiveStatus(context.Background(), "ward_A", "room_301", LiveStatusUpdate{})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLiveStatus_RoomNotFound(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE rooms`).
		WithArgs(true, "ward_X", "room_999").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateLiveStatus(context.Background(), "ward_X", "room_999", LiveStatusUpdate{
		Acknowledged: boolPtr(true),
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "room not found")
}

func TestUpdateLiveStatus_MissingKeys(t *testing.T) {
	db, _, repo := setupMockRoomDB(t)
	defer db.Close()

	err := repo.UpdateLiveStatus(context.Background(), "", "room_301", LiveStatusUpdate{Acknowledged: boolPtr(true)})
	assert.Error(t, err)

	err = repo.UpdateLiveStatus(context.Background(), "ward_A", "", LiveStatusUpdate{Acknowledged: boolPtr(true)})
	assert.Error(t, err)
}

func TestAcknowledgeAll_SingleTransaction(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	refs := []RoomRef{
		{WardKey: "ward_A", RoomKey: "room_101"},
		{WardKey: "ward_A", RoomKey: "room_102"},
		{WardKey: "ward_B", RoomKey: "room_201"},
	}

	mock.ExpectBegin()
	for _, ref := range refs {
		mock.ExpectExec(`UPDATE rooms`).
			WithArgs(ref.WardKey, ref.RoomKey).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.AcknowledgeAll(context.Background(), refs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgeAll_RollbackOnFailure(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	refs := []RoomRef{
		{WardKey: "ward_A", RoomKey: "room_101"},
		{WardKey: "ward_A", RoomKey: "room_102"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE rooms`).
		WithArgs("ward_A", "room_101").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE rooms`).
		WithArgs("ward_A", "room_102").
		WillReturnError(errors.New("write failed"))
	mock.ExpectRollback()

	err := repo.AcknowledgeAll(context.Background(), refs)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "room_102")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgeAll_EmptyList(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	require.NoError(t, repo.AcknowledgeAll(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetLiveStatusTx(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE rooms`).
		WithArgs("ward_A", "room_301").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, repo.ResetLiveStatusTx(ctx, tx, "ward_A", "room_301"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRoom(t *testing.T) {
	db, mock, repo := setupMockRoomDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO rooms`).
		WithArgs("ward_A", "room_301", "Alice", true, false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertRoom(context.Background(), "ward_A", "room_301", "Alice", true, false, true)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
