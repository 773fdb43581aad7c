package correlation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := Generate("req")
		if len(id) < 10 || len(id) > 50 {
			t.Fatalf("id length %d out of bounds: %s", len(id), id)
		}
		if !strings.HasPrefix(id, "req-") {
			t.Fatalf("missing prefix: %s", id)
		}
		for _, r := range id {
			if !strings.ContainsRune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_", r) {
				t.Fatalf("id not URL-safe: %s", id)
			}
		}
		if seen[id] {
			t.Fatalf("collision after %d ids", i)
		}
		seen[id] = true
	}
}

func TestGenerateClampsLongPrefix(t *testing.T) {
	id := Generate(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(id), 50)
	assert.GreaterOrEqual(t, len(id), 10)
}

func TestRunRestoresScope(t *testing.T) {
	root := context.Background()
	assert.Equal(t, "", Current(root))

	err := Run(root, "id-a", func(ctxA context.Context) error {
		assert.Equal(t, "id-a", Current(ctxA))
		inner := Run(ctxA, "id-b", func(ctxB context.Context) error {
			assert.Equal(t, "id-b", Current(ctxB))
			return nil
		})
		assert.NoError(t, inner)
		// Back inside the outer scope after the inner Run returns.
		assert.Equal(t, "id-a", Current(ctxA))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "", Current(root))
}

func TestRunPropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := Run(context.Background(), "id-a", func(ctx context.Context) error {
		return want
	})
	assert.ErrorIs(t, err, want)
}

func TestChildRecordsAncestry(t *testing.T) {
	ctx := With(context.Background(), "parent-id")
	childCtx, childID := Child(ctx, "worker")

	cc := FromContext(childCtx)
	if cc == nil {
		t.Fatal("no scope in child context")
	}
	assert.Equal(t, childID, cc.CorrelationID)
	assert.Equal(t, "parent-id", cc.ParentID)
	assert.NotEqual(t, "parent-id", childID)
}

func TestBindSurvivesScopeExit(t *testing.T) {
	var got string
	var bound func()

	_ = Run(context.Background(), "bound-id", func(ctx context.Context) error {
		bound = Bind(ctx, func(ctx context.Context) {
			got = Current(ctx)
		})
		return nil
	})

	// Invoke from an unrelated goroutine after the scope exited.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bound()
	}()
	wg.Wait()

	assert.Equal(t, "bound-id", got)
}

func TestBindWithoutScope(t *testing.T) {
	var got string
	fn := Bind(context.Background(), func(ctx context.Context) {
		got = Current(ctx)
	})
	fn()
	assert.Equal(t, "", got)
}
