package main

import (
	"cloudherd/cmd"
	"cloudherd/internal/logging"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync errors on process exit are not actionable.
		_ = logging.Sync()
	}()

	cmd.Execute()
}
