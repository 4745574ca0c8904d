package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSteps(t *testing.T) {
	profile := map[string]string{"phone": "555"}
	good := []Step{
		{
			Index: 0, Endpoint: "https://forms.example/formResponse",
			Fields:       []Field{{Logical: "participant1", Entry: "entry.1"}},
			TokenPattern: `value="([^"]+)"`,
		},
		{
			Index: 1, Endpoint: "https://forms.example/formResponse",
			Fields:     []Field{{Logical: "resource", Entry: "entry.2"}},
			NeedsToken: true, TokenField: "fbzx",
		},
	}
	require.NoError(t, ValidateSteps(good, 2, profile))

	tests := []struct {
		name    string
		mutate  func(s []Step) []Step
		wantMsg string
	}{
		{
			"empty sequence",
			func(s []Step) []Step { return nil },
			"at least one",
		},
		{
			"gap in indexes",
			func(s []Step) []Step { s[1].Index = 3; return s },
			"contiguous",
		},
		{
			"missing endpoint",
			func(s []Step) []Step { s[0].Endpoint = ""; return s },
			"endpoint",
		},
		{
			"step with no fields",
			func(s []Step) []Step { s[1].Fields = nil; return s },
			"no fields",
		},
		{
			"first step wants a token",
			func(s []Step) []Step { s[0].NeedsToken = true; s[0].TokenField = "x"; return s },
			"step 0 cannot",
		},
		{
			"token field missing",
			func(s []Step) []Step { s[1].TokenField = ""; return s },
			"token_field",
		},
		{
			"no pattern on yielding step",
			func(s []Step) []Step { s[0].TokenPattern = ""; return s },
			"token_pattern",
		},
		{
			"bad pattern",
			func(s []Step) []Step { s[0].TokenPattern = "("; return s },
			"invalid token_pattern",
		},
		{
			"participant slot out of range",
			func(s []Step) []Step {
				s[0].Fields = []Field{{Logical: "participant5", Entry: "entry.1"}}
				return s
			},
			"out of range",
		},
		{
			"unknown logical field",
			func(s []Step) []Step {
				s[1].Fields = []Field{{Logical: "email", Entry: "entry.2"}}
				return s
			},
			"no configured value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := tt.mutate(append([]Step(nil), good...))
			err := ValidateSteps(steps, 2, profile)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCheckSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/viewform", r.URL.Path)
		w.Write([]byte(`FB_PUBLIC_LOAD_DATA_ = [[1572571765],[88]]`))
	}))
	defer srv.Close()

	steps := []Step{{
		Index:    0,
		Endpoint: srv.URL + "/formResponse",
		Fields: []Field{
			{Logical: "participant1", Entry: "entry.1572571765"},
			{Logical: "resource", Entry: "entry.999"},
		},
	}}
	c, err := New(steps, nil, 5*time.Second)
	require.NoError(t, err)

	rep, err := c.CheckSchema(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, []string{"resource (entry.999)"}, rep.Missing)
}

func TestViewURL(t *testing.T) {
	assert.Equal(t,
		"https://docs.google.com/forms/d/e/abc/viewform",
		ViewURL("https://docs.google.com/forms/d/e/abc/formResponse"))
	assert.Equal(t, "https://example.com/x", ViewURL("https://example.com/x"))
}
