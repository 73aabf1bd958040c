package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(" +")

// RunAISBX executes an aisbx command with the given arguments string (split by spaces).
// Use RunAISBXArgs when arguments contain spaces that should be preserved.
func RunAISBX(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	// Sanitize command.
	cmdArgs = strings.TrimSpace(cmdArgs)
	cmdArgs = multiSpaceRegex.ReplaceAllString(cmdArgs, " ")

	// Split into args.
	var args []string
	if cmdArgs != "" {
		args = strings.Split(cmdArgs, " ")
	}

	return RunAISBXArgs(ctx, env, binary, args, nolog)
}

// RunAISBXArgs executes an aisbx command with pre-split arguments.
// This preserves arguments that contain spaces (e.g. a shell line like "echo hi > out.txt").
func RunAISBXArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData

	// os.Environ() first, the custom env overrides it (last duplicate wins).
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "AISBX_NO_LOG=true")
	}
	cmd.Env = newEnv

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}
