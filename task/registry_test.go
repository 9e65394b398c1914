package task_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/nullcrew/taskforge/task"
)

func TestRegistry_RegisterTreeWalksNestedNamespaces(t *testing.T) {
	leaf := func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) { return nil, nil }

	r := task.NewRegistry()
	r.RegisterTree(map[string]any{
		"emails": map[string]any{
			"sendWelcome": task.Handler(leaf),
			"digest": map[string]any{
				"weekly": task.Handler(leaf),
			},
		},
		"cleanup":  task.Handler(leaf),
		"ignoreMe": "not a handler",
		"empty":    map[string]any{},
	})

	want := []string{"cleanup", "emails.digest.weekly", "emails.sendWelcome"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	if _, ok := r.Lookup("ignoreMe"); ok {
		t.Fatalf("non-handler leaf should not be registered")
	}
}

func TestRegistry_RemoveAllHandlers(t *testing.T) {
	r := task.NewRegistry()
	r.RegisterHandler("a", func(_ context.Context, _ any, _ *task.TaskHandle) (any, error) { return nil, nil })
	r.RemoveAllHandlers()
	if len(r.Names()) != 0 {
		t.Fatalf("expected empty registry after RemoveAllHandlers")
	}
}
