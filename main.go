package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes
const (
	exitGeneric     = 1
	exitPrintFailed = 2
	exitInvalid     = 3
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// exitCode maps err to the process exit status
func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitGeneric
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{}

	root := &cobra.Command{
		Use:           "ticketprint",
		Short:         "Print ESC/POS sale tickets on thermal printers",
		Long:          "ticketprint fetches ESC/POS tickets from the POS backend and delivers them over serial, Bluetooth or a network relay, falling back to an on-screen preview.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (yaml, json or toml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level override: debug, info, warn or error")

	root.AddCommand(
		newPrintCmd(a),
		newDecodeCmd(),
		newTestCmd(a),
		newMethodsCmd(a),
		newDetectCmd(a),
		newStatusCmd(a),
		newConnectCmd(a),
		newDocumentCmd(a),
		newRelayCmd(a),
		newServeCmd(a),
		newDiscoverCmd(a),
	)
	return root
}
