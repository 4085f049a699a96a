package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		fallback blog.Category
		want     blog.Category
		record   bool
	}{
		{"fetch", fmt.Errorf("wrap: %w", &blog.FetchError{URL: "u"}), blog.CategoryExtraction, blog.CategoryNetwork, true},
		{"generation", &blog.GenerationError{Message: "x"}, blog.CategoryNetwork, blog.CategorySchema, true},
		{"execution", &schema.ExecutionError{Reason: schema.ReasonNoContainers}, blog.CategoryNetwork, blog.CategorySchema, true},
		{"extraction", &blog.ExtractionError{URL: "u", Stage: "text", Cause: errors.New("x")}, blog.CategoryNetwork, blog.CategoryExtraction, true},
		{"duplicate", fmt.Errorf("insert: %w", blog.ErrDuplicateURL), blog.CategoryExtraction, "", false},
		{"other", errors.New("disk full"), blog.CategoryExtraction, blog.CategoryExtraction, true},
		{"nil", nil, blog.CategoryExtraction, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tc.err, tc.fallback)
			require.Equal(t, tc.record, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

type memLog struct{ records []blog.ErrorRecord }

func (m *memLog) InsertError(_ context.Context, rec blog.ErrorRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestRecorderWritesOnePerOccurrence(t *testing.T) {
	t.Parallel()

	log := &memLog{}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(log, fixedClock{t: now}, zap.NewNop())
	postID := int64(9)
	failure := &blog.FetchError{URL: "https://x", Attempts: 3, Cause: errors.New("refused")}

	require.NoError(t, r.Record(context.Background(), 1, &postID, failure, blog.CategoryExtraction))
	require.NoError(t, r.Record(context.Background(), 1, &postID, failure, blog.CategoryExtraction))
	require.NoError(t, r.Record(context.Background(), 1, nil, blog.ErrDuplicateURL, blog.CategoryExtraction))

	require.Len(t, log.records, 2)
	require.Equal(t, blog.CategoryNetwork, log.records[0].Category)
	require.Equal(t, now, log.records[0].Timestamp)
	require.Equal(t, int64(9), *log.records[0].PostID)
	require.Contains(t, log.records[0].Message, "refused")
}
