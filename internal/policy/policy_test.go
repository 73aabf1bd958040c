package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/policy"
)

func TestEngineEvaluate(t *testing.T) {
	pythonEcho := model.PolicyRuleSet{
		Allow: []model.PolicyRule{{Command: "python"}, {Command: "echo"}},
		Deny:  []model.PolicyRule{{Name: "no-rm-rf", Pattern: `rm\s+-rf`}},
	}

	tests := map[string]struct {
		ruleSet        model.PolicyRuleSet
		req            model.CommandRequest
		expVerdict     model.PolicyVerdict
		expMatchedRule string
		expCommand     string
	}{
		"An allowed command should be allowed.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Command: "python", Args: []string{"script.py"}},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=python",
			expCommand:     "python",
		},

		"A chained shell line with a denied argument should be denied with the deny rule.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Shell: true, Line: "echo; rm -rf /"},
			expVerdict:     model.PolicyVerdictDeny,
			expMatchedRule: "no-rm-rf",
			expCommand:     "echo",
		},

		"A command path should be resolved to its base name.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Command: "/usr/bin/python", Args: []string{"-V"}},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=python",
			expCommand:     "python",
		},

		"A traversal path should be resolved lexically to its base name.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Command: "../../bin/curl"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "curl",
		},

		"A not allowed command should be denied by default.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Command: "curl", Args: []string{"example.com"}},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "curl",
		},

		"An empty allow set should deny everything.": {
			ruleSet:    model.PolicyRuleSet{},
			req:        model.CommandRequest{Command: "echo"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "echo",
		},

		"Deny should dominate a more specific allow.": {
			ruleSet: model.PolicyRuleSet{
				Allow: []model.PolicyRule{{Name: "echo-exact", Command: "echo", Pattern: `^echo hello$`}},
				Deny:  []model.PolicyRule{{Name: "echo-any", Command: "ech*"}},
			},
			req:            model.CommandRequest{Command: "echo", Args: []string{"hello"}},
			expVerdict:     model.PolicyVerdictDeny,
			expMatchedRule: "echo-any",
			expCommand:     "echo",
		},

		"Every command of a shell line should be allowed.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Shell: true, Line: "echo hi && curl example.com"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "curl",
		},

		"A piped shell line with allowed commands should be allowed.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Shell: true, Line: "echo 'print(1)' | python"},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=echo",
			expCommand:     "echo",
		},

		"A CEL expression rule should match on arguments.": {
			ruleSet: model.PolicyRuleSet{
				Allow: []model.PolicyRule{{Name: "py-scripts", Command: "python", Expr: `args.size() > 0 && args[0].endsWith(".py")`}},
			},
			req:            model.CommandRequest{Command: "python", Args: []string{"main.py"}},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "py-scripts",
			expCommand:     "python",
		},

		"A CEL expression rule not matching should deny.": {
			ruleSet: model.PolicyRuleSet{
				Allow: []model.PolicyRule{{Name: "py-scripts", Command: "python", Expr: `args.size() > 0 && args[0].endsWith(".py")`}},
			},
			req:        model.CommandRequest{Command: "python", Args: []string{"-c", "print(1)"}},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "python",
		},

		"The default fork bomb rule should deny a fork bomb.": {
			ruleSet:        policy.DefaultRuleSet(),
			req:            model.CommandRequest{Shell: true, Line: ":(){ :|:& };:"},
			expVerdict:     model.PolicyVerdictDeny,
			expMatchedRule: "fork-bomb",
			expCommand:     ":(){",
		},

		"A command after a line break should be evaluated.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Shell: true, Line: "echo hi\ncurl example.com"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "curl",
		},

		"A line continuation should not split the command.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Shell: true, Line: "python main.py \\\n  --verbose"},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=python",
			expCommand:     "python",
		},

		"A quoted line break should stay in its argument.": {
			ruleSet:        pythonEcho,
			req:            model.CommandRequest{Shell: true, Line: "python -c 'import sys\nprint(sys.argv)'"},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=python",
			expCommand:     "python",
		},

		"A command substitution should be denied.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Shell: true, Line: "echo $(curl example.com)"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "echo",
		},

		"A backtick substitution should be denied.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Shell: true, Line: "echo `curl example.com`"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "echo",
		},

		"A process substitution should be denied.": {
			ruleSet:    pythonEcho,
			req:        model.CommandRequest{Shell: true, Line: "python <(curl example.com)"},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "python",
		},

		"A substitution should be allowed when the rule set allows it.": {
			ruleSet: model.PolicyRuleSet{
				Allow:             []model.PolicyRule{{Command: "echo"}},
				AllowSubstitution: true,
			},
			req:            model.CommandRequest{Shell: true, Line: "echo $(date)"},
			expVerdict:     model.PolicyVerdictAllow,
			expMatchedRule: "command=echo",
			expCommand:     "echo",
		},

		"Strict env should deny non allowlisted variables.": {
			ruleSet: model.PolicyRuleSet{
				Allow:        []model.PolicyRule{{Command: "echo"}},
				EnvAllowlist: []string{"PYTHONUNBUFFERED"},
				StrictEnv:    true,
			},
			req:        model.CommandRequest{Command: "echo", Env: map[string]string{"AWS_SECRET_ACCESS_KEY": "x"}},
			expVerdict: model.PolicyVerdictDeny,
			expCommand: "echo",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			e, err := policy.NewEngine(test.ruleSet, 7)
			require.NoError(err)

			d := e.Evaluate(test.req)
			assert.Equal(test.expVerdict, d.Verdict)
			assert.Equal(test.expMatchedRule, d.MatchedRule)
			assert.Equal(test.expCommand, d.Command)
			assert.Equal(uint64(7), d.PolicyVersion)
			assert.NotEmpty(d.Reason)
		})
	}
}

func TestNewEngineInvalidRules(t *testing.T) {
	tests := map[string]struct {
		ruleSet model.PolicyRuleSet
	}{
		"A rule without matchers should fail.": {
			ruleSet: model.PolicyRuleSet{Allow: []model.PolicyRule{{Name: "empty"}}},
		},
		"A malformed regex should fail.": {
			ruleSet: model.PolicyRuleSet{Deny: []model.PolicyRule{{Pattern: `rm(`}}},
		},
		"A malformed glob should fail.": {
			ruleSet: model.PolicyRuleSet{Allow: []model.PolicyRule{{Command: "py[thon"}}},
		},
		"A malformed CEL expression should fail.": {
			ruleSet: model.PolicyRuleSet{Allow: []model.PolicyRule{{Expr: `command ==`}}},
		},
		"A non boolean CEL expression should fail.": {
			ruleSet: model.PolicyRuleSet{Allow: []model.PolicyRule{{Expr: `command`}}},
		},
		"An escaping working subdir should fail.": {
			ruleSet: model.PolicyRuleSet{WorkingSubdir: "../other"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := policy.NewEngine(test.ruleSet, 1)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestEngineFilterEnv(t *testing.T) {
	assert := assert.New(t)

	e, err := policy.NewEngine(model.PolicyRuleSet{EnvAllowlist: []string{"PYTHONUNBUFFERED", "LANG"}}, 1)
	require.NoError(t, err)

	env := map[string]string{"PYTHONUNBUFFERED": "1", "LANG": "C", "AWS_SECRET_ACCESS_KEY": "x", "HOME": "/root"}
	filtered, stripped := e.FilterEnv(env)
	assert.Equal(map[string]string{"PYTHONUNBUFFERED": "1", "LANG": "C"}, filtered)
	assert.Equal([]string{"AWS_SECRET_ACCESS_KEY", "HOME"}, stripped)

	// Idempotent.
	again, strippedAgain := e.FilterEnv(filtered)
	assert.Equal(filtered, again)
	assert.Empty(strippedAgain)
}

func TestEngineCheck(t *testing.T) {
	e, err := policy.NewEngine(policy.DefaultRuleSet(), 1)
	require.NoError(t, err)

	d, err := e.Check("python3 main.py")
	require.NoError(t, err)
	assert.True(t, d.Allowed())

	d, err = e.Check("bash -c 'rm -rf /'")
	require.NoError(t, err)
	assert.False(t, d.Allowed())
	assert.Equal(t, "rm-rf-root", d.MatchedRule)

	_, err = e.Check(`echo "unterminated`)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestStoreSwap(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, err := policy.NewStore(policy.StoreConfig{RuleSet: model.PolicyRuleSet{Allow: []model.PolicyRule{{Command: "echo"}}}})
	require.NoError(err)

	old := s.Current()
	assert.Equal(uint64(1), old.Version())
	assert.True(old.Evaluate(model.CommandRequest{Command: "echo"}).Allowed())

	v, err := s.Swap(model.PolicyRuleSet{Allow: []model.PolicyRule{{Command: "cat"}}})
	require.NoError(err)
	assert.Equal(uint64(2), v)
	assert.False(s.Current().Evaluate(model.CommandRequest{Command: "echo"}).Allowed())

	// Engines held before the swap keep their rule set.
	assert.True(old.Evaluate(model.CommandRequest{Command: "echo"}).Allowed())

	// A broken rule set keeps the current one.
	_, err = s.Swap(model.PolicyRuleSet{Deny: []model.PolicyRule{{Pattern: "("}}})
	assert.ErrorIs(err, model.ErrConfiguration)
	assert.Equal(uint64(2), s.Current().Version())
}
