package policy

import (
	"fmt"
	"path"
	"strings"

	"github.com/anmitsu/go-shlex"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// shellSeparators split a shell line into independent commands.
var shellSeparators = map[string]bool{";": true, "&&": true, "||": true, "|": true, "&": true}

// lineBreaks makes every shell line break a command separator, line
// continuations are joined first.
var lineBreaks = strings.NewReplacer("\\\r\n", " ", "\\\n", " ", "\r\n", " ; ", "\n", " ; ", "\r", " ; ")

// substitutions run a nested command line.
var substitutions = []string{"$(", "`", "<(", ">("}

// substitution returns the first substitution of a shell line, if any.
func substitution(line string) string {
	for _, s := range substitutions {
		if strings.Contains(line, s) {
			return s
		}
	}
	return ""
}

// command is a normalized single command of a request.
type command struct {
	Name string
	Args []string
}

// normalized is a request ready to be matched against rules.
type normalized struct {
	// Commands has one entry per shell segment, non shell requests have one.
	Commands []command
	// Line is the whitespace normalized full command line.
	Line string
}

// ParseShellLine splits a shell command line into a command request that can be
// evaluated by the policy and executed in shell mode.
func ParseShellLine(line string) (model.CommandRequest, error) {
	tokens, err := shlex.Split(line, true)
	if err != nil {
		return model.CommandRequest{}, fmt.Errorf("could not parse command line: %w", model.ErrNotValid)
	}
	if len(tokens) == 0 {
		return model.CommandRequest{}, fmt.Errorf("empty command line: %w", model.ErrNotValid)
	}

	return model.CommandRequest{
		Shell:   true,
		Line:    line,
		Command: canonicalName(tokens[0]),
		Args:    tokens[1:],
	}, nil
}

func normalize(req model.CommandRequest) (normalized, error) {
	if !req.Shell {
		name := canonicalName(req.Command)
		if name == "" {
			return normalized{}, fmt.Errorf("empty command")
		}
		line := strings.Join(append([]string{strings.TrimSpace(req.Command)}, req.Args...), " ")
		return normalized{
			Commands: []command{{Name: name, Args: req.Args}},
			Line:     line,
		}, nil
	}

	tokens, err := shlex.Split(lineBreaks.Replace(req.Line), true)
	if err != nil {
		return normalized{}, fmt.Errorf("unparseable command line: %w", err)
	}

	var cmds []command
	var current []string
	flush := func() {
		if len(current) > 0 {
			cmds = append(cmds, command{Name: canonicalName(current[0]), Args: current[1:]})
		}
		current = nil
	}
	for _, tk := range tokens {
		if shellSeparators[tk] {
			flush()
			continue
		}

		trimmed := strings.TrimRight(tk, ";&|")
		if trimmed != "" {
			current = append(current, trimmed)
		}
		if trimmed != tk {
			flush()
		}
	}
	flush()

	if len(cmds) == 0 {
		return normalized{}, fmt.Errorf("empty command line")
	}
	for _, c := range cmds {
		if c.Name == "" {
			return normalized{}, fmt.Errorf("empty command in line")
		}
	}

	return normalized{
		Commands: cmds,
		Line:     strings.Join(strings.Fields(req.Line), " "),
	}, nil
}

// canonicalName resolves the executable base name lexically, paths are never
// resolved against the host filesystem.
func canonicalName(exe string) string {
	exe = strings.Trim(strings.TrimSpace(exe), ";&|()")
	if exe == "" {
		return ""
	}
	name := path.Base(path.Clean(exe))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
