package tenantctx

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kakoi/internal/model"
)

func TestScopeRoundTrip(t *testing.T) {
	scope := &model.Scope{ProjectID: "aa", Allowed: map[string]bool{"aa": true}}
	ctx := WithScope(context.Background(), scope)

	got := ScopeFromContext(ctx)
	assert.Same(t, scope, got)
}

func TestScopeAbsent(t *testing.T) {
	assert.Nil(t, ScopeFromContext(context.Background()))
}

func TestScopeChildContextInherits(t *testing.T) {
	scope := &model.Scope{ProjectID: "aa"}
	ctx := WithScope(context.Background(), scope)

	child, cancel := context.WithCancel(ctx)
	defer cancel()
	assert.Same(t, scope, ScopeFromContext(child))
}

// Concurrent calls with distinct scopes must never observe each other's
// tenant. Each goroutine binds its own scope to its own context chain and
// re-reads it after contention.
func TestScopeIsolationUnderConcurrency(t *testing.T) {
	const goroutines = 100

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			projectID := fmt.Sprintf("project-%d", n)
			ctx := WithScope(context.Background(), &model.Scope{ProjectID: projectID})

			<-start
			for j := 0; j < 100; j++ {
				got := ScopeFromContext(ctx)
				if got == nil || got.ProjectID != projectID {
					t.Errorf("goroutine %d observed scope %+v", n, got)
					return
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()
}
