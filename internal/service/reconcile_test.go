package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metadata/memory"
)

// insertPendingAged вставляет PENDING запись с заданным возрастом
// и (опционально) кладёт осиротевший контент.
func insertPendingAged(t *testing.T, meta *memory.Store, blobs *blob.Store, name string, age time.Duration, withContent bool) *model.FileRecord {
	t.Helper()

	rec, err := meta.InsertPending(context.Background(), model.FileRecord{
		ExternalID:       name + "-ext",
		UserID:           "alice",
		FileName:         name,
		Visibility:       model.VisibilityPrivate,
		UploadedAtMillis: time.Now().Add(-age).UTC().UnixMilli(),
		Status:           model.StatusPending,
	})
	if err != nil {
		t.Fatalf("вставка PENDING записи: %v", err)
	}

	if withContent {
		if err := blobs.Save(rec.ContentKey(), strings.NewReader("осиротевший контент")); err != nil {
			t.Fatalf("запись контента: %v", err)
		}
	}
	return rec
}

func newReconcileFixture(t *testing.T, interval, pendingAge time.Duration) (*ReconcileService, *memory.Store, *blob.Store) {
	t.Helper()

	blobs, err := blob.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	meta := memory.New()
	rs := NewReconcileService(meta, blobs, interval, pendingAge, testLogger())
	return rs, meta, blobs
}

func TestReconcile_FailsStalePending(t *testing.T) {
	rs, meta, blobs := newReconcileFixture(t, 0, time.Hour)
	ctx := context.Background()

	stale := insertPendingAged(t, meta, blobs, "stale.txt", 2*time.Hour, true)
	fresh := insertPendingAged(t, meta, blobs, "fresh.txt", time.Minute, false)

	result := rs.RunOnce(ctx)

	if result.StaleCount != 1 {
		t.Errorf("stale: ожидалось 1, получено %d", result.StaleCount)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed: ожидалось 1, получено %d", result.FailedCount)
	}
	if result.Errors != 0 {
		t.Errorf("errors: ожидалось 0, получено %d", result.Errors)
	}

	// Осиротевший контент удалён
	if blobs.Exists(stale.ContentKey()) {
		t.Error("осиротевший контент не удалён")
	}

	// Свежая запись осталась PENDING
	remaining, err := meta.ListStalePending(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("ожидалась одна свежая PENDING запись, получено %d", len(remaining))
	}
}

func TestReconcile_FreesReservedName(t *testing.T) {
	rs, meta, blobs := newReconcileFixture(t, 0, time.Hour)
	ctx := context.Background()

	insertPendingAged(t, meta, blobs, "stuck.txt", 2*time.Hour, false)

	// Имя занято застрявшей записью
	if _, err := meta.InsertPending(ctx, model.FileRecord{
		ExternalID: "new-ext", UserID: "alice", FileName: "stuck.txt",
		UploadedAtMillis: time.Now().UnixMilli(), Status: model.StatusPending,
	}); !errors.Is(err, metadata.ErrNameTaken) {
		t.Fatalf("ожидалась ErrNameTaken до сверки, получено %v", err)
	}

	rs.RunOnce(ctx)

	// После сверки имя свободно
	if _, err := meta.InsertPending(ctx, model.FileRecord{
		ExternalID: "new-ext", UserID: "alice", FileName: "stuck.txt",
		UploadedAtMillis: time.Now().UnixMilli(), Status: model.StatusPending,
	}); err != nil {
		t.Errorf("имя не освобождено после сверки: %v", err)
	}
}

func TestReconcile_EmptyStore(t *testing.T) {
	rs, _, _ := newReconcileFixture(t, 0, time.Hour)

	result := rs.RunOnce(context.Background())
	if result.StaleCount != 0 || result.FailedCount != 0 || result.Errors != 0 {
		t.Errorf("пустое хранилище: неожиданный результат %+v", result)
	}
}

func TestReconcile_StartDisabledByZeroInterval(t *testing.T) {
	rs, _, _ := newReconcileFixture(t, 0, time.Hour)

	// Нулевой интервал — Start не запускает горутину и Stop безопасен
	rs.Start(context.Background())
	rs.Stop()
}

func TestReconcile_StartStop(t *testing.T) {
	rs, _, _ := newReconcileFixture(t, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs.Start(ctx)
	rs.Stop()
}
