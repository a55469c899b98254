package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("entry-%03d", p.next), nil
}

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "images.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&EntryRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &steppingClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	store, err := NewGormStore(db, &sequenceIDProvider{}, clock.Now)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	service, err := NewService(ServiceConfig{Store: store, MaxImageBytes: 64 << 10})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buffer.Bytes()
}

func uploadPair(t *testing.T, service *Service, owner string) Entry {
	t.Helper()
	entry, err := service.Upload(context.Background(), owner, Upload{Field: "sketch", Data: pngBytes(t)}, Upload{Field: "generated", Data: pngBytes(t)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return entry
}

func TestUploadStoresDataURLs(t *testing.T) {
	service, _ := newTestService(t)

	entry, err := service.Upload(context.Background(), "user-1",
		Upload{Field: "sketch", Data: pngBytes(t)},
		Upload{Field: "generated", Data: jpegBytes(t)},
	)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if entry.ID != "entry-001" {
		t.Fatalf("unexpected id %q", entry.ID)
	}
	if !strings.HasPrefix(entry.SketchImage, "data:image/png;base64,") {
		t.Fatalf("unexpected sketch data URL %q", entry.SketchImage[:32])
	}
	if !strings.HasPrefix(entry.GeneratedImage, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected generated data URL %q", entry.GeneratedImage[:32])
	}
}

func TestUploadRejectsInvalidImages(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	cases := map[string]Upload{
		"missing":     {Field: "sketch"},
		"not image":   {Field: "sketch", Data: []byte("plain text is not an image")},
		"unsupported": {Field: "sketch", Data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")},
		"too large":   {Field: "sketch", Data: append(pngBytes(t), make([]byte, 64<<10)...)},
	}
	for name, upload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := service.Upload(ctx, "user-1", upload, Upload{Field: "generated", Data: pngBytes(t)})
			if !errors.Is(err, ErrInvalidUpload) {
				t.Fatalf("expected ErrInvalidUpload, got %v", err)
			}
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected *ServiceError, got %T", err)
			}
			if !strings.HasPrefix(serviceErr.Code(), opUpload+".") {
				t.Fatalf("unexpected code %q", serviceErr.Code())
			}
		})
	}

	var count int64
	if err := db.Model(&EntryRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no stored entries, got %d", count)
	}
}

func TestHistoryIsNewestFirstAndOwnerScoped(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	var ownIDs []string
	for _, owner := range []string{"user-1", "user-2", "user-1", "user-1"} {
		entry := uploadPair(t, service, owner)
		if owner == "user-1" {
			ownIDs = append(ownIDs, entry.ID)
		}
	}

	history, err := service.History(ctx, "user-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for index, want := range []string{ownIDs[2], ownIDs[1], ownIDs[0]} {
		if history[index].ID != want {
			t.Fatalf("entry %d is %q, want %q", index, history[index].ID, want)
		}
		if history[index].UserID != "user-1" {
			t.Fatalf("entry %d belongs to %q", index, history[index].UserID)
		}
	}

	empty, err := service.History(ctx, "user-3")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(empty))
	}
}

func TestDeleteHidesOtherOwnersEntries(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	entry := uploadPair(t, service, "user-1")

	if err := service.Delete(ctx, "user-2", entry.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for another owner, got %v", err)
	}
	if err := service.Delete(ctx, "user-1", entry.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := service.Delete(ctx, "user-1", entry.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound after delete, got %v", err)
	}
	if err := service.Delete(ctx, "user-1", "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for unknown id, got %v", err)
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected errMissingStore, got %v", err)
	}
}
