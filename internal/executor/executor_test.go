package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	schema "github.com/hanpama/normcache/internal/schema"
)

func stringScalar() *schema.Type { return &schema.Type{Name: "String", Kind: schema.TypeKindScalar} }

func TestExecutor_ScalarFieldsResolveSynchronously(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {
				Name: "Query",
				Kind: schema.TypeKindObject,
				Fields: []*schema.Field{
					{Name: "a", Type: schema.NamedType("String")},
					{Name: "b", Type: schema.NamedType("String")},
				},
			},
			"String": stringScalar(),
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockValueResolver("A"),
		"Query.b": NewMockValueResolver("B"),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ a b }")

	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	want := &ExecutionResult{Data: map[string]any{"a": "A", "b": "B"}, Errors: []GraphQLError{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	for _, call := range rt.GetCalls() {
		if call.Kind != CallKindSync {
			t.Fatalf("expected only sync calls for scalar fields, got %+v", call)
		}
	}
}

func TestExecutor_ObjectFieldsAreClassifiedAsyncAndBatchedPerDepth(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {
				Name:   "Query",
				Kind:   schema.TypeKindObject,
				Fields: []*schema.Field{{Name: "hero", Type: schema.NamedType("Droid")}},
			},
			"Droid": {
				Name: "Droid",
				Kind: schema.TypeKindObject,
				Fields: []*schema.Field{
					{Name: "name", Type: schema.NamedType("String")},
					{Name: "buddy", Type: schema.NamedType("Droid")},
				},
			},
			"String": stringScalar(),
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.hero": NewMockValueResolver(map[string]any{"name": "R2-D2"}),
		"Droid.name": func(_ context.Context, source any, _ map[string]any) (any, error) {
			return source.(map[string]any)["name"], nil
		},
		"Droid.buddy": NewMockValueResolver(nil),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ hero { name buddy { name } } }")

	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	want := &ExecutionResult{
		Data:   map[string]any{"hero": map[string]any{"name": "R2-D2", "buddy": nil}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	var asyncBatches []int
	seen := map[int]bool{}
	for _, call := range rt.GetCalls() {
		if call.Kind == CallKindAsync && !seen[call.BatchID] {
			seen[call.BatchID] = true
			asyncBatches = append(asyncBatches, call.BatchID)
		}
	}
	// One batch for the top-level "hero" object field, one more for "buddy"
	// one BFS depth down — object fields never share a batch with their own
	// children.
	if len(asyncBatches) != 2 {
		t.Fatalf("expected exactly two async batches (hero, then buddy), got %d", len(asyncBatches))
	}
}

func TestExecutor_NonNullViolationPropagatesToNearestNullableAncestor(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {
				Name:   "Query",
				Kind:   schema.TypeKindObject,
				Fields: []*schema.Field{{Name: "obj", Type: schema.NamedType("Obj")}},
			},
			"Obj": {
				Name:   "Obj",
				Kind:   schema.TypeKindObject,
				Fields: []*schema.Field{{Name: "required", Type: schema.NonNullType(schema.NamedType("String"))}},
			},
			"String": stringScalar(),
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.obj":     NewMockValueResolver(map[string]any{}),
		"Obj.required":  NewMockErrorResolver(fmt.Errorf("boom")),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ obj { required } }")

	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	if got.Data.(map[string]any)["obj"] != nil {
		t.Fatalf("expected obj to be nullified, got %+v", got.Data)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("expected exactly one located error, got %+v", got.Errors)
	}
}

func TestExecutor_InlineFragmentOnNonMatchingConcreteTypeIsSkipped(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {
				Name:   "Query",
				Kind:   schema.TypeKindObject,
				Fields: []*schema.Field{{Name: "hero", Type: schema.NamedType("Character")}},
			},
			"Character": {
				Name:          "Character",
				Kind:          schema.TypeKindInterface,
				Fields:        []*schema.Field{{Name: "name", Type: schema.NamedType("String")}},
				PossibleTypes: []string{"Droid", "Human"},
			},
			"Droid": {
				Name:       "Droid",
				Kind:       schema.TypeKindObject,
				Interfaces: []string{"Character"},
				Fields: []*schema.Field{
					{Name: "name", Type: schema.NamedType("String")},
					{Name: "primaryFunction", Type: schema.NamedType("String")},
				},
			},
			"Human": {
				Name:       "Human",
				Kind:       schema.TypeKindObject,
				Interfaces: []string{"Character"},
				Fields:     []*schema.Field{{Name: "name", Type: schema.NamedType("String")}},
			},
			"String": stringScalar(),
		},
	}
	nameResolver := func(_ context.Context, source any, _ map[string]any) (any, error) {
		return source.(map[string]any)["name"], nil
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.hero":            NewMockValueResolver(map[string]any{"__typename": "Human", "name": "Leia"}),
		"Human.name":            nameResolver,
		"Droid.name":            nameResolver,
		"Droid.primaryFunction": NewMockValueResolver("Astromech"),
	})
	SetTypeResolver(rt, func(value any) (string, error) {
		return value.(map[string]any)["__typename"].(string), nil
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, `{ hero { name ... on Droid { primaryFunction } } }`)

	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	want := map[string]any{"hero": map[string]any{"name": "Leia"}}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutor_UnknownOperationNameYieldsError(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query": {Name: "Query", Kind: schema.TypeKindObject, Fields: []*schema.Field{{Name: "a", Type: schema.NamedType("String")}}},
			"String": stringScalar(),
		},
	}
	exec := NewExecutor(NewMockRuntime(nil), sch)
	doc := mustParseQuery(t, "query Named { a }")

	got := exec.ExecuteRequest(context.Background(), doc, "Other", nil, nil)
	if len(got.Errors) == 0 {
		t.Fatalf("expected an error for an unknown operation name")
	}
}
