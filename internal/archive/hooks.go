package archive

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Hook commands run as argument vectors, never through a shell, so injected
// metacharacters cannot escape. The command string must additionally pass a
// restrictive allow-pattern and a denylist of dangerous fragments before it
// is even tokenized.
var hookAllowPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-./:=@%'" \t]+$`)

var hookDenylist = []string{
	"|", ";", "&", "$", "`", "(", ")", "<", ">", "\n",
	"&&", "||", "$(", "rm -rf /",
}

// validateHook rejects hook command strings that could reach shell
// evaluation semantics or destructive commands.
func validateHook(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("empty hook command")
	}
	if !hookAllowPattern.MatchString(command) {
		return fmt.Errorf("hook command contains disallowed characters")
	}
	for _, frag := range hookDenylist {
		if strings.Contains(command, frag) {
			return fmt.Errorf("hook command contains forbidden fragment %q", frag)
		}
	}
	return nil
}

// splitHookCommand tokenizes a hook command string respecting single and
// double quotes.
func splitHookCommand(command string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
		inTok   bool
	)
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == ' ' || r == '\t':
			if inTok {
				tokens = append(tokens, current.String())
				current.Reset()
				inTok = false
			}
		default:
			current.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in hook command")
	}
	if inTok {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty hook command")
	}
	return tokens, nil
}

// runHook validates, tokenizes, resolves, and executes a hook command.
// Nonzero exit is fatal for the running job.
func runHook(ctx context.Context, stage, command string) error {
	if err := validateHook(command); err != nil {
		return &HookError{Stage: stage, Err: err}
	}
	tokens, err := splitHookCommand(command)
	if err != nil {
		return &HookError{Stage: stage, Err: err}
	}

	bin, err := exec.LookPath(tokens[0])
	if err != nil {
		return &HookError{Stage: stage, Err: fmt.Errorf("hook executable %q not found: %w", tokens[0], err)}
	}

	cmd := exec.CommandContext(ctx, bin, tokens[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &HookError{Stage: stage, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}
