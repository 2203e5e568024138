package catalogue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/velocols/colprofile/internal/models"
)

func sampleCols() []models.Col {
	return []models.Col{
		{ID: "alpe-d-huez", Name: "Alpe d'Huez", Elevation: 1850, Length: 13.8, AvgGrade: 8.1,
			Path: []models.Coordinate{{Lat: 45.05, Lng: 6.03}, {Lat: 45.09, Lng: 6.07}}},
		{ID: "galibier", Name: "Col du Galibier", Elevation: 2642, Length: 18.1, AvgGrade: 6.9,
			Path: []models.Coordinate{{Lat: 45.0, Lng: 6.4}, {Lat: 45.06, Lng: 6.41}}},
	}
}

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"badger": func(t *testing.T) Store {
			b, err := OpenBadgerInMemory()
			if err != nil {
				t.Fatalf("OpenBadgerInMemory: %v", err)
			}
			return b
		},
	}
	if dsn := os.Getenv("COLPROFILE_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), dsn)
			if err != nil {
				t.Fatalf("OpenPostgres: %v", err)
			}
			_, _ = s.db.Exec(context.Background(), `TRUNCATE cols, col_backups`)
			return s
		}
	}
	return factories
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			if err := s.PutCols(ctx, sampleCols()); err != nil {
				t.Fatalf("PutCols: %v", err)
			}

			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("GetAll: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("GetAll returned %d cols, want 2", len(all))
			}

			c, err := s.GetByID(ctx, "galibier")
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if c.Name != "Col du Galibier" || len(c.Path) != 2 || c.Profile != nil {
				t.Errorf("GetByID = %+v", c)
			}

			if _, err := s.GetByID(ctx, "ventoux"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetByID(unknown) err = %v, want ErrNotFound", err)
			}

			profile := &models.ElevationProfile{MaxElevation: 2640, Segments: []models.ElevationSegment{{EndIndex: 5}}}
			ok, err := s.UpdateProfile(ctx, "galibier", profile)
			if err != nil || !ok {
				t.Fatalf("UpdateProfile = %v, %v", ok, err)
			}
			c, _ = s.GetByID(ctx, "galibier")
			if c.Profile == nil || c.Profile.MaxElevation != 2640 {
				t.Errorf("profile not persisted: %+v", c.Profile)
			}

			ok, err = s.UpdateProfile(ctx, "ventoux", profile)
			if err != nil || ok {
				t.Errorf("UpdateProfile(unknown) = %v, %v, want false, nil", ok, err)
			}
		})
	}
}

func TestStoreBackups(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			cols := sampleCols()
			if err := s.CreateBackup(ctx, "snap-1", cols); err != nil {
				t.Fatalf("CreateBackup: %v", err)
			}
			if err := s.CreateBackup(ctx, "snap-1", cols); err == nil {
				t.Error("duplicate backup name accepted")
			}

			infos, err := s.ListBackups(ctx)
			if err != nil {
				t.Fatalf("ListBackups: %v", err)
			}
			if len(infos) != 1 || infos[0].Name != "snap-1" || infos[0].ColCount != 2 {
				t.Errorf("ListBackups = %+v", infos)
			}

			snap, err := s.LoadBackup(ctx, "snap-1")
			if err != nil {
				t.Fatalf("LoadBackup: %v", err)
			}
			if len(snap.Cols) != 2 || snap.Cols[0].ID != "alpe-d-huez" {
				t.Errorf("LoadBackup cols = %+v", snap.Cols)
			}

			if _, err := s.LoadBackup(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("LoadBackup(unknown) err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMemoryIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(sampleCols()...)

	c, _ := m.GetByID(ctx, "galibier")
	c.Path[0].Lat = 0
	c.Name = "changed"

	again, _ := m.GetByID(ctx, "galibier")
	if again.Path[0].Lat == 0 || again.Name == "changed" {
		t.Error("mutating a returned col changed the store")
	}
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(sampleCols()...)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := m.GetAll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("GetAll after Close err = %v, want ErrClosed", err)
	}
}

func TestMemoryListBackupsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Hour) }

	_ = m.CreateBackup(ctx, "older", nil)
	_ = m.CreateBackup(ctx, "newer", nil)

	infos, _ := m.ListBackups(ctx)
	if len(infos) != 2 || infos[0].Name != "newer" {
		t.Errorf("ListBackups order = %+v, want newer first", infos)
	}
}
