package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// exerciseStore runs the behaviour shared by every backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "Messages", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, "Messages", "u1", []byte(`{"messages":{}}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	body, err := s.Get(ctx, "Messages", "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected stored body")
	}

	// A nil body from the update func leaves the document unchanged.
	if err := s.Update(ctx, "Messages", "u2", func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			t.Error("u2 should not exist yet")
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("Update(no-op) failed: %v", err)
	}
	if _, err := s.Get(ctx, "Messages", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no-op update must not create a document, got %v", err)
	}

	sentinel := errors.New("abort")
	if err := s.Update(ctx, "Messages", "u1", func([]byte, bool) ([]byte, error) {
		return nil, sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected update func error to propagate, got %v", err)
	}

	if err := s.Delete(ctx, "Messages", "u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "Messages", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "Messages", "u1"); err != nil {
		t.Fatalf("deleting a missing document should succeed, got %v", err)
	}
}

// exerciseConcurrentUpdates checks that concurrent increments are not lost.
func exerciseConcurrentUpdates(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, "Counters", "c", func(current []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					var err error
					if n, err = strconv.Atoi(string(current)); err != nil {
						return nil, err
					}
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
	}

	body, err := s.Get(ctx, "Counters", "c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != strconv.Itoa(writers) {
		t.Fatalf("expected counter %d, got %s", writers, body)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	exerciseStore(t, s)
	exerciseConcurrentUpdates(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	body := []byte(`{"a":1}`)
	if err := s.Put(ctx, "c", "d", body); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	body[0] = 'X'

	got, err := s.Get(ctx, "c", "d")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("store must not alias caller buffers, got %s", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	exerciseStore(t, s)
	exerciseConcurrentUpdates(t, s)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := NewSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStoreOpenFailureReturnsError(t *testing.T) {
	t.Parallel()
	// A directory cannot hold a database file.
	if s, err := NewSQLite(t.TempDir()); err == nil {
		_ = s.Close()
		t.Fatal("expected error when the path is a directory")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	client.FlushDB(ctx)

	s := NewRedisWithClient(client)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
	exerciseConcurrentUpdates(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection IN ('Messages', 'Counters')`); err != nil {
		t.Fatalf("failed to clean up test data: %v", err)
	}
	exerciseStore(t, s)
	exerciseConcurrentUpdates(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Options{Backend: "mongo"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
