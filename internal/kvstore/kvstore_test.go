package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	be.Err(t, err, nil)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestPutGet(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	be.Err(t, s.Put(ctx, "k", []byte("v1")), nil)

	got, err := s.Get(ctx, "k")
	be.Err(t, err, nil)
	be.Equal(t, string(got), "v1")

	// перезапись
	be.Err(t, s.Put(ctx, "k", []byte("v2")), nil)
	got, err = s.Get(ctx, "k")
	be.Err(t, err, nil)
	be.Equal(t, string(got), "v2")
}

func TestGetMissing(t *testing.T) {
	s, _ := openTemp(t)

	_, err := s.Get(context.Background(), "nope")
	be.Err(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	be.Err(t, s.Put(ctx, "k", []byte("v")), nil)
	be.Err(t, s.Delete(ctx, "k"), nil)

	_, err := s.Get(ctx, "k")
	be.Err(t, err, ErrNotFound)

	// удаление отсутствующего ключа не ошибка
	be.Err(t, s.Delete(ctx, "k"), nil)
}

func TestSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	be.Err(t, s.Put(ctx, "k", []byte("persistent")), nil)
	be.Err(t, s.Close(), nil)

	s2, err := Open(path)
	be.Err(t, err, nil)
	defer s2.Close()

	got, err := s2.Get(ctx, "k")
	be.Err(t, err, nil)
	be.Equal(t, string(got), "persistent")
}
