/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package applier

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// ChangedSettingsEnv is the environment variable carrying the space separated list of changed
// keys to restart commands, when the applier runs for a specific change set.
const ChangedSettingsEnv = "CHANGED_SETTINGS"

// commandRunner runs one restart command. Tests replace it to observe the invocations.
var commandRunner = runCommand

func runCommand(ctx context.Context, argv []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// restart runs the restart commands of one service, in listed order. The first failing command
// is fatal for the service.
func (a *Applier) restart(ctx context.Context, service affectedService) error {
	var env []string
	if service.changedSettings != nil {
		env = append(env, ChangedSettingsEnv+"="+strings.Join(service.changedSettings, " "))
	}
	for _, command := range service.service.RestartCommands {
		argv, err := shlex.Split(string(command))
		if err != nil {
			return typederrors.NewRestartCommandError(
				err, "can't split restart command %q: %v", command, err,
			)
		}
		if len(argv) == 0 {
			continue
		}
		a.logger.InfoContext(
			ctx,
			"Running restart command",
			slog.String("service", service.name),
			slog.Any("argv", argv),
		)
		output, err := commandRunner(ctx, argv, env)
		if err != nil {
			return typederrors.NewRestartCommandError(
				err, "restart command %q failed: %v: %s", command, err, output,
			)
		}
	}
	return nil
}
