package stringutil_test

import (
	"testing"
	"time"

	"github.com/parley-org/parley/internal/stringutil"
	"github.com/stretchr/testify/require"
)

func Test_FormatTime(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		tm := time.Date(2022, 2, 1, 2, 2, 2, 0, time.UTC)
		formatted := stringutil.FormatTime(tm)
		require.Equal(t, "2022-02-01T02:02:02Z", formatted)

		parsed, err := stringutil.ParseTime(formatted)
		require.NoError(t, err)
		require.Equal(t, tm, parsed)
	})
	t.Run("Empty", func(t *testing.T) {
		require.Equal(t, "", stringutil.FormatTime(time.Time{}))
	})
}

func Test_ParseTime(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		parsed, err := stringutil.ParseTime("2022-02-01T02:02:02Z")
		require.NoError(t, err)
		require.Equal(t, time.Date(2022, 2, 1, 2, 2, 2, 0, time.UTC), parsed)
	})
	t.Run("Empty", func(t *testing.T) {
		parsed, err := stringutil.ParseTime("")
		require.NoError(t, err)
		require.Equal(t, time.Time{}, parsed)
	})
}

func TestTruncString(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		require.Equal(t, "", stringutil.TruncString("", 8))
		require.Equal(t, "1234567", stringutil.TruncString("1234567", 8))
		require.Equal(t, "12345678", stringutil.TruncString("123456789", 8))
	})
	t.Run("RuneSafe", func(t *testing.T) {
		require.Equal(t, "héll", stringutil.TruncString("héllo", 4))
	})
}

func TestTruncateWithEllipsis(t *testing.T) {
	require.Equal(t, "short", stringutil.TruncateWithEllipsis("short", 10))
	require.Equal(t, "hell…", stringutil.TruncateWithEllipsis("hello world", 5))
	require.Equal(t, "…", stringutil.TruncateWithEllipsis("hello", 1))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Punctuation", "Hello, World!", "hello world"},
		{"Whitespace", "  a \t b\n\nc  ", "a b c"},
		{"Mixed", "The QUICK brown-fox.", "the quick brownfox"},
		{"Empty", "", ""},
		{"OnlyPunctuation", "!?!...", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, stringutil.NormalizeText(tc.in))
		})
	}
}

func TestSimilarity(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		require.Equal(t, 1.0, stringutil.Similarity("same text", "same text"))
	})
	t.Run("IdenticalAfterNormalization", func(t *testing.T) {
		require.Equal(t, 1.0, stringutil.Similarity("Same, Text!", "same text"))
	})
	t.Run("Known", func(t *testing.T) {
		// kitten -> sitting has edit distance 3, longest length 7.
		got := stringutil.Similarity("kitten", "sitting")
		require.InDelta(t, 1.0-3.0/7.0, got, 1e-9)
	})
	t.Run("Disjoint", func(t *testing.T) {
		require.Less(t, stringutil.Similarity("aaaa", "zzzz"), 0.1)
	})
	t.Run("BothEmpty", func(t *testing.T) {
		require.Equal(t, 1.0, stringutil.Similarity("", ""))
	})
}

func TestSimilarityExceeds(t *testing.T) {
	t.Run("NearDuplicate", func(t *testing.T) {
		a := "coffee improves alertness and focus in most adults"
		b := "coffee improves alertness and focus in most adults!"
		require.True(t, stringutil.SimilarityExceeds(a, b, 0.8))
	})
	t.Run("Different", func(t *testing.T) {
		a := "coffee improves alertness and focus"
		b := "tea contains less caffeine than coffee does overall"
		require.False(t, stringutil.SimilarityExceeds(a, b, 0.8))
	})
	t.Run("LengthGapShortCircuits", func(t *testing.T) {
		long := make([]byte, 0, 4000)
		for i := 0; i < 1000; i++ {
			long = append(long, "abcd"...)
		}
		require.False(t, stringutil.SimilarityExceeds("abcd", string(long), 0.8))
	})
	t.Run("ThresholdBoundary", func(t *testing.T) {
		// Similarity is exactly 0.8 here (2 edits over length 10): not strictly greater.
		require.False(t, stringutil.SimilarityExceeds("aaaaaaaaaa", "aaaaaaaabb", 0.8))
		require.True(t, stringutil.SimilarityExceeds("aaaaaaaaaa", "aaaaaaaaab", 0.8))
	})
}
