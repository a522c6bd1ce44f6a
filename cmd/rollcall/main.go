// Command rollcall takes classroom attendance by face recognition.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
