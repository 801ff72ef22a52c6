package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func def(name string, deps ...string) Definition {
	return Definition{Name: name, Dependencies: deps}
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
		want []string
	}{
		{name: "empty", defs: nil, want: []string{}},
		{name: "independent jobs sorted by name", defs: []Definition{def("c"), def("a"), def("b")}, want: []string{"a", "b", "c"}},
		{name: "chain", defs: []Definition{def("c", "b"), def("b", "a"), def("a")}, want: []string{"a", "b", "c"}},
		{
			name: "diamond",
			defs: []Definition{def("report", "left", "right"), def("right", "base"), def("left", "base"), def("base")},
			want: []string{"base", "left", "right", "report"},
		},
		{
			name: "released dependent sorts with waiting jobs",
			defs: []Definition{def("z"), def("b", "a"), def("a")},
			want: []string{"a", "b", "z"},
		},
		{name: "external dependency ignored", defs: []Definition{def("b", "outside"), def("a")}, want: []string{"a", "b"}},
		{name: "duplicate dependency counted once", defs: []Definition{def("b", "a", "a"), def("a")}, want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Order(tt.defs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestOrder_Cycle(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
		want []string
	}{
		{name: "two node", defs: []Definition{def("a", "b"), def("b", "a")}, want: []string{"a", "b"}},
		{name: "self", defs: []Definition{def("a", "a")}, want: []string{"a"}},
		{
			name: "downstream of cycle is reported",
			defs: []Definition{def("root"), def("x", "root", "z"), def("y", "x"), def("z", "y"), def("tail", "z")},
			want: []string{"tail", "x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Order(tt.defs)
			assert.Nil(t, got)
			var cycle *CycleError
			require.ErrorAs(t, err, &cycle)
			assert.Equal(t, tt.want, cycle.Jobs)
			assert.Contains(t, err.Error(), "dependency cycle")
		})
	}
}
