package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"hello there", IntentChat},
		{"what is your name?", IntentChat},
		{"read the file config.yaml", IntentFileOps},
		{"list the directory contents", IntentFileOps},
		{"fix this bug in my function", IntentCode},
		{"implement a parser", IntentCode},
		{"search the web for Go releases", IntentResearch},
		{"what is the latest on this?", IntentResearch},
		// file_ops wins when several intents match.
		{"write a file with this code", IntentFileOps},
		// Word boundaries: "profile" is not "file".
		{"update my profile", IntentChat},
		{"", IntentChat},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.input), "input %q", tc.input)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	input := "search for the file with the bug"
	first := Classify(input)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Classify(input))
	}
}

func TestRouterSetsIntent(t *testing.T) {
	s := &State{UserInput: "debug this program"}
	NewRouter().Run(context.Background(), s)
	require.Equal(t, IntentCode, s.Intent)
	require.False(t, s.Failed())
}
