package job

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubHandler(name string, deps ...string) Handler {
	return HandlerFunc{
		Def: Definition{Name: name, Dependencies: deps},
		Fn: func(context.Context, ExecContext, json.RawMessage) (Result, error) {
			return Result{}, nil
		},
	}
}

func groupHandler(name, group string, deps ...string) Handler {
	return HandlerFunc{Def: Definition{Name: name, Group: group, Dependencies: deps}}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{name: "valid", def: Definition{Name: "recalc-scores", Group: "nightly"}},
		{name: "empty name", def: Definition{}, wantErr: true},
		{name: "uppercase name", def: Definition{Name: "RecalcScores"}, wantErr: true},
		{name: "spaces in name", def: Definition{Name: "recalc scores"}, wantErr: true},
		{name: "empty dependency", def: Definition{Name: "a", Dependencies: []string{""}}, wantErr: true},
		{name: "bad group", def: Definition{Name: "a", Group: "Night Shift"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register(HandlerFunc{Def: tt.def})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, 0, reg.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, reg.Len())
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler("a")))
	err := reg.Register(stubHandler("a"))
	require.ErrorIs(t, err, ErrDuplicateJob)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.MustRegister(stubHandler("a"), stubHandler("a")) })
}

func TestRegistry_Validate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(stubHandler("a"), stubHandler("b", "a"))
		require.NoError(t, reg.Validate())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(stubHandler("b", "missing"))
		err := reg.Validate()
		var depErr *UnknownDependencyError
		require.ErrorAs(t, err, &depErr)
		assert.Equal(t, "missing", depErr.Dependency)
	})

	t.Run("cycle", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(stubHandler("a", "b"), stubHandler("b", "a"))
		err := reg.Validate()
		var cycle *CycleError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, []string{"a", "b"}, cycle.Jobs)
	})
}

func TestRegistry_LookupAndGroups(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		groupHandler("export-users", "nightly"),
		groupHandler("recalc-scores", "nightly", "export-users"),
		groupHandler("send-digest", "weekly"),
	)

	h, ok := reg.Lookup("recalc-scores")
	require.True(t, ok)
	assert.Equal(t, "recalc-scores", h.Definition().Name)

	_, ok = reg.Lookup("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"export-users", "recalc-scores", "send-digest"}, reg.Names())

	nightly := reg.Group("nightly")
	require.Len(t, nightly, 2)
	assert.Equal(t, "export-users", nightly[0].Name)
	assert.Empty(t, reg.Group("monthly"))
	assert.Empty(t, reg.Group(""))
}

func TestRegistry_Match(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(stubHandler("export-users"), stubHandler("export-orders"), stubHandler("recalc-scores"))

	defs, err := reg.Match("export-*")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "export-orders", defs[0].Name)

	all, err := reg.Match("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = reg.Match("[")
	require.Error(t, err)
}

func TestHandlerFunc_NilFn(t *testing.T) {
	h := HandlerFunc{Def: Definition{Name: "empty"}}
	_, err := h.Execute(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestMergeParams(t *testing.T) {
	defaults := map[string]any{"limit": float64(100), "dry_run": true}

	tests := []struct {
		name    string
		params  json.RawMessage
		want    map[string]any
		wantErr bool
	}{
		{name: "defaults only", params: nil, want: map[string]any{"limit": float64(100), "dry_run": true}},
		{name: "null", params: json.RawMessage(`null`), want: map[string]any{"limit": float64(100), "dry_run": true}},
		{name: "caller wins", params: json.RawMessage(`{"limit":5,"extra":"x"}`), want: map[string]any{"limit": float64(5), "dry_run": true, "extra": "x"}},
		{name: "array rejected", params: json.RawMessage(`[1]`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MergeParams(defaults, tt.params)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(out, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	// defaults are not mutated
	assert.Equal(t, float64(100), defaults["limit"])
}

func TestMergeParams_KeepsLargeIntegers(t *testing.T) {
	out, err := MergeParams(map[string]any{"limit": 10}, json.RawMessage(`{"account_id": 9007199254740993}`))
	require.NoError(t, err)

	// Compare raw members: decoding to float64 would hide a rounded value.
	var members map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &members))
	assert.Equal(t, "9007199254740993", string(members["account_id"]))
	assert.Equal(t, "10", string(members["limit"]))
}
