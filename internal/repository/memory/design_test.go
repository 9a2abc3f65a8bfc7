package memory

import (
	"context"
	"testing"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDesignRepo_Metadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := New()
	require.NoError(t, err)
	designs := NewDesignRepo(db)
	content := NewContentRepo(db)

	_, err = designs.GetMetadata(ctx, "d")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, designs.UpdateMetadata(ctx, "d", model.DesignMetadata{Name: "x"}), errs.ErrNotFound)

	_, err = content.Append(ctx, "u", "d", model.ContentDocument, "{}")
	require.NoError(t, err)

	meta, err := designs.GetMetadata(ctx, "d")
	require.NoError(t, err)
	require.Equal(t, model.DesignMetadata{}, meta)

	want := model.DesignMetadata{Name: "Pets", Description: "API", Tags: []string{"pets"}}
	require.NoError(t, designs.UpdateMetadata(ctx, "d", want))

	meta, err = designs.GetMetadata(ctx, "d")
	require.NoError(t, err)
	require.True(t, want.Equal(meta))
}
