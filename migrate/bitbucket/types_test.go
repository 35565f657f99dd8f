package bitbucket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bb "github.com/byte4ever/bbmigrate/migrate/bitbucket"
)

func TestEpochMillis(t *testing.T) {
	t.Parallel()

	got := bb.EpochMillisForTest(1577836800000)

	assert.Equal(
		t,
		time.Date(
			2020, time.January, 1,
			0, 0, 0, 0, time.UTC,
		),
		got,
	)
}

func TestEpochMillis_zero(t *testing.T) {
	t.Parallel()

	assert.True(t, bb.EpochMillisForTest(0).IsZero())
}

func TestToActivity_merge(t *testing.T) {
	t.Parallel()

	a, ok := bb.ToActivityForTest(bb.WireActivity{
		Action:      "MERGED",
		CreatedDate: 1577836800000,
		User: bb.WireUser{
			EmailAddress: "merger@example.com",
		},
	})

	require.True(t, ok)
	assert.Equal(t, bb.ActivityMerge, a.Kind)
	assert.Equal(
		t, "merger@example.com", a.CommitterEmail,
	)
	assert.False(t, a.MergedAt.IsZero())
}

func TestToActivity_standalone_comment(t *testing.T) {
	t.Parallel()

	a, ok := bb.ToActivityForTest(bb.WireActivity{
		Action: "COMMENTED",
		Comment: &bb.WireComment{
			ID:   7,
			Text: "looks good",
			Author: bb.WireUser{
				EmailAddress: "alice@example.com",
				DisplayName:  "Alice",
			},
			Comments: []bb.WireComment{
				{ID: 8, Text: "agreed"},
			},
		},
	})

	require.True(t, ok)
	assert.Equal(t, bb.ActivityComment, a.Kind)
	require.NotNil(t, a.Comment)
	assert.False(t, a.Comment.Inline())
	assert.Equal(t, "looks good", a.Comment.Text)
	require.Len(t, a.Comment.Replies, 1)
	assert.Equal(
		t, "agreed", a.Comment.Replies[0].Text,
	)
	assert.Nil(t, a.Comment.Replies[0].Anchor)
}

func TestToActivity_inline_comment(t *testing.T) {
	t.Parallel()

	a, ok := bb.ToActivityForTest(bb.WireActivity{
		Action: "COMMENTED",
		Comment: &bb.WireComment{
			ID:   9,
			Text: "off by one",
		},
		CommentAnchor: &bb.WireAnchor{
			Line:     42,
			LineType: "ADDED",
			Path:     "main.go",
		},
	})

	require.True(t, ok)
	require.NotNil(t, a.Comment)
	assert.True(t, a.Comment.Inline())
	assert.Equal(t, "main.go", a.Comment.Anchor.Path)
	assert.Equal(t, 42, a.Comment.Anchor.NewLine)
	assert.Zero(t, a.Comment.Anchor.OldLine)
}

func TestToActivity_ignored_actions(t *testing.T) {
	t.Parallel()

	for _, action := range []string{
		"APPROVED", "RESCOPED", "OPENED", "DECLINED",
	} {
		_, ok := bb.ToActivityForTest(
			bb.WireActivity{Action: action},
		)

		assert.False(t, ok, action)
	}
}

func TestToActivity_comment_without_payload(
	t *testing.T,
) {
	t.Parallel()

	_, ok := bb.ToActivityForTest(bb.WireActivity{
		Action: "COMMENTED",
	})

	assert.False(t, ok)
}

func TestToAnchor_line_sides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lineType string
		wantOld  int
		wantNew  int
	}{
		{
			name:     "added counts new side",
			lineType: "ADDED",
			wantOld:  0,
			wantNew:  5,
		},
		{
			name:     "removed counts old side",
			lineType: "REMOVED",
			wantOld:  5,
			wantNew:  0,
		},
		{
			name:     "context counts both",
			lineType: "CONTEXT",
			wantOld:  5,
			wantNew:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := bb.ToAnchorForTest(&bb.WireAnchor{
				Line:     5,
				LineType: tt.lineType,
				Path:     "f.go",
			})

			require.NotNil(t, a)
			assert.Equal(t, tt.wantOld, a.OldLine)
			assert.Equal(t, tt.wantNew, a.NewLine)
		})
	}
}

func TestToAnchor_src_path_fallback(t *testing.T) {
	t.Parallel()

	a := bb.ToAnchorForTest(&bb.WireAnchor{
		Line:     1,
		LineType: "CONTEXT",
		SrcPath:  "old/name.go",
	})

	require.NotNil(t, a)
	assert.Equal(t, "old/name.go", a.Path)
}

func TestToAnchor_nil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, bb.ToAnchorForTest(nil))
}
