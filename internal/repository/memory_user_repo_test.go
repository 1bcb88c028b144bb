package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

// 同じIDで異なるemailを渡しても、最初の書き込みが保持されること。
func TestMemoryUserRepo_Upsert_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	repo := NewMemoryUserRepo(clk)

	first, err := repo.Upsert(ctx, "facebook-abc", "a@b.com")
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}

	clk.Advance(time.Hour)

	second, err := repo.Upsert(ctx, "facebook-abc", "other@b.com")
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	if second.Email != "a@b.com" {
		t.Errorf("Email = %q, want %q", second.Email, "a@b.com")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", second.CreatedAt, first.CreatedAt)
	}
	if repo.Len() != 1 {
		t.Errorf("Len() = %d, want 1", repo.Len())
	}
}

func TestMemoryUserRepo_FindByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo(clock.NewFake(testNow))

	if _, err := repo.FindByID(ctx, "facebook-abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID() before upsert error = %v, want ErrNotFound", err)
	}

	if _, err := repo.Upsert(ctx, "facebook-abc", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	user, err := repo.FindByID(ctx, "facebook-abc")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if user.Email != "" {
		t.Errorf("Email = %q, want empty", user.Email)
	}
	if !user.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, testNow)
	}
}

// 同じIDへの同時Upsertでも作成は1件で、全員が同じレコードを観測すること。
func TestMemoryUserRepo_ConcurrentUpsert_CreatesOne(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo(clock.NewFake(testNow))

	const workers = 20
	results := make([]*model.User, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "tab1@b.com"
			if i%2 == 1 {
				email = "tab2@b.com"
			}
			u, err := repo.Upsert(ctx, "facebook-abc", email)
			if err != nil {
				t.Errorf("Upsert() error = %v", err)
				return
			}
			results[i] = u
		}(i)
	}
	wg.Wait()

	if repo.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", repo.Len())
	}
	for i, u := range results {
		if u == nil {
			continue
		}
		if u.Email != results[0].Email {
			t.Errorf("result[%d].Email = %q, want %q", i, u.Email, results[0].Email)
		}
	}
}
