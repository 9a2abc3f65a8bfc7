package command

import (
	"testing"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestJSONPatch_Apply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     string
		commands []string
		want     string
		wantErr  bool
	}{
		{
			name: "no commands",
			base: `{"openapi":"3.0.2"}`,
			want: `{"openapi":"3.0.2"}`,
		},
		{
			name: "add path then title",
			base: `{"info":{},"paths":{}}`,
			commands: []string{
				`[{"op":"add","path":"/paths/~1pets","value":{}}]`,
				`[{"op":"add","path":"/info/title","value":"Pets"}]`,
			},
			want: `{"info":{"title":"Pets"},"paths":{"/pets":{}}}`,
		},
		{
			name:     "malformed patch",
			base:     `{}`,
			commands: []string{`{"op":"add"}`},
			wantErr:  true,
		},
		{
			name:     "remove missing",
			base:     `{}`,
			commands: []string{`[{"op":"remove","path":"/missing"}]`},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewJSONPatch().Apply(tt.base, tt.commands)
			if tt.wantErr {
				require.ErrorIs(t, err, errs.ErrCommandApplication)
				return
			}
			require.NoError(t, err)
			require.JSONEq(t, tt.want, got)
		})
	}
}

func TestJSONPatch_SequentialEqualsSingleBatch(t *testing.T) {
	t.Parallel()
	base := `{"paths":{}}`
	cmds := []string{
		`[{"op":"add","path":"/paths/a","value":1}]`,
		`[{"op":"add","path":"/paths/b","value":2}]`,
		`[{"op":"replace","path":"/paths/a","value":3}]`,
	}
	ex := NewJSONPatch()

	oneShot, err := ex.Apply(base, cmds)
	require.NoError(t, err)

	step := base
	for _, c := range cmds {
		step, err = ex.Apply(step, []string{c})
		require.NoError(t, err)
	}
	require.JSONEq(t, oneShot, step)
}
