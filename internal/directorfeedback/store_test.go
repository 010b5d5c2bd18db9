package directorfeedback_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/directorfeedback"
)

func TestFileStore_SaveAndList(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs := directorfeedback.NewFileStore(path)

	require.NoError(t, fs.Save("camp1", 12, directorfeedback.Feedback{
		PacingScore: 4, VoiceAccuracy: 5, Comments: "Fern sounded exactly right",
	}))
	require.NoError(t, fs.Save("camp1", 20, directorfeedback.Feedback{PacingScore: 2}))
	require.NoError(t, fs.Save("other", 3, directorfeedback.Feedback{PacingScore: 5}))

	got, err := fs.List("camp1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 12, got[0].TurnNumber)
	require.Equal(t, "Fern sounded exactly right", got[0].Feedback.Comments)
	require.Equal(t, 20, got[1].TurnNumber)
}

func TestFileStore_ListMissingFile(t *testing.T) {
	t.Parallel()
	fs := directorfeedback.NewFileStore(filepath.Join(t.TempDir(), "nope.jsonl"))
	got, err := fs.List("camp1")
	require.NoError(t, err)
	require.Nil(t, got)
}
