package attendancetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

func TestRollbackKeepsConcurrentCommit(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- repo.WithTx(ctx, func(ctx context.Context, tx attendance.TxRepository) error {
			if _, err := tx.InsertRecord(ctx, attendance.Record{UserID: 1, Day: day, Status: attendance.StatusCheckedIn}); err != nil {
				return err
			}
			close(started)
			<-release
			return boom
		})
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- repo.WithTx(ctx, func(ctx context.Context, tx attendance.TxRepository) error {
			_, err := tx.InsertRecord(ctx, attendance.Record{UserID: 2, Day: day, Status: attendance.StatusCheckedIn})
			return err
		})
	}()
	select {
	case err := <-secondDone:
		t.Fatalf("second transaction finished while the first was open: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.ErrorIs(t, <-firstDone, boom)
	require.NoError(t, <-secondDone)

	_, err := repo.GetRecord(ctx, 1, day)
	require.ErrorIs(t, err, shared.ErrNotFound)
	rec, err := repo.GetRecord(ctx, 2, day)
	require.NoError(t, err)
	require.Equal(t, attendance.StatusCheckedIn, rec.Status)
}
