// Command carbon-scorer is the reference scoring process. It reads a JSON
// array of emissions on stdin and writes a JSON array of recommendations on
// stdout. Diagnostics go to stderr.
package main

import (
	"bufio"
	"os"

	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/advisor"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Stderr.WriteString("carbon-scorer: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	out := bufio.NewWriter(os.Stdout)
	if err := advisor.Run(bufio.NewReader(os.Stdin), out); err != nil {
		logger.Error("scoring failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	if err := out.Flush(); err != nil {
		logger.Error("write recommendations", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
