package admission_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

// echoExecutor returns the payload it was given.
type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, _ string, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

func ExampleService() {
	store := admission.NewMemoryStore()
	defer store.Close()

	pool, err := admission.NewPool(store, echoExecutor{}, admission.WithConfig(admission.Config{
		MinWorkers:   1,
		PollInterval: 10 * time.Millisecond,
	}))
	if err != nil {
		fmt.Println(err)
		return
	}

	svc, err := admission.NewService(store, pool)
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		fmt.Println(err)
		return
	}
	defer pool.Stop(context.Background())

	id, err := svc.Enqueue(ctx, admission.EnqueueParams{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Role:     admission.RoleMember,
		CallType: "report",
		Payload:  json.RawMessage(`{"query":"monthly spend"}`),
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	for {
		info, err := svc.Status(ctx, id)
		if err != nil {
			fmt.Println(err)
			return
		}
		if info.Status.Terminal() {
			fmt.Println(info.Status)
			fmt.Println(string(info.Result))
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Output:
	// completed
	// {"query":"monthly spend"}
}
