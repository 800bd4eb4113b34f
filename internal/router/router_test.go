package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DefaultAgent: "generalist",
		UserDirectives: map[string]string{
			"/content":       "writer",
			"/content/draft": "drafter",
			"/crm":           "crm",
		},
		Affinities: []Affinity{
			{Agent: "crm", TaskTypes: []string{"followup"}, ContextMatch: "contacts/**", Priority: 1},
			{Agent: "writer", TaskTypes: []string{"blog", "followup"}, ContextMatch: "content/**/*.md", Priority: 5},
			{Agent: "editor", TaskTypes: []string{"blog"}, Priority: 5},
		},
	}
}

func TestResolve_DirectiveBeatsContext(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{
		Prompt:        "update Alice",
		UserDirective: "/crm update alice",
		TouchesFiles:  []string{"content/posts/a.md"},
	})
	assert.Equal(t, "crm", res.Agent)
	assert.Equal(t, ReasonUserDirective, res.Reason)
	assert.Nil(t, res.MatchedAffinity)
}

func TestResolve_LongestDirectivePrefix(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{UserDirective: "/content/draft new post"})
	assert.Equal(t, "drafter", res.Agent)

	res = New(testConfig()).Resolve(Request{UserDirective: "/content publish"})
	assert.Equal(t, "writer", res.Agent)
}

func TestResolve_DirectiveIgnoresCase(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{UserDirective: "/Content/Draft launch notes"})
	assert.Equal(t, "drafter", res.Agent)
	assert.Equal(t, ReasonUserDirective, res.Reason)

	cfg := testConfig()
	cfg.UserDirectives = map[string]string{"/Inbox": "mail"}
	res = New(cfg).Resolve(Request{UserDirective: "/INBOX triage"})
	assert.Equal(t, "mail", res.Agent)
}

func TestResolve_ContextMatch(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{
		TaskType:     "blog",
		TouchesFiles: []string{"README.md", "./contacts/alice.md"},
	})
	assert.Equal(t, "crm", res.Agent)
	assert.Equal(t, ReasonContextMatch, res.Reason)
	require.NotNil(t, res.MatchedAffinity)
	assert.Equal(t, "contacts/**", res.MatchedAffinity.ContextMatch)

	res = New(testConfig()).Resolve(Request{TouchesFiles: []string{"content/posts/2024/a.md"}})
	assert.Equal(t, "writer", res.Agent)
}

func TestResolve_TaskAffinityHighestPriority(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{TaskType: "followup"})
	assert.Equal(t, "writer", res.Agent)
	assert.Equal(t, ReasonTaskAffinity, res.Reason)
	require.NotNil(t, res.MatchedAffinity)
	assert.Equal(t, 5, res.MatchedAffinity.Priority)

	// Equal priority goes to the first entry.
	res = New(testConfig()).Resolve(Request{TaskType: "blog"})
	assert.Equal(t, "writer", res.Agent)
}

func TestResolve_Default(t *testing.T) {
	t.Parallel()

	res := New(testConfig()).Resolve(Request{
		Prompt:        "what's up",
		TaskType:      "unknown",
		UserDirective: "/nothing",
		TouchesFiles:  []string{"misc/x.txt"},
	})
	assert.Equal(t, "generalist", res.Agent)
	assert.Equal(t, ReasonDefault, res.Reason)
	assert.Nil(t, res.MatchedAffinity)
}
