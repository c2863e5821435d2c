// Command authcore is the operator tool for an authcore SQLite database:
// bootstrap the administrator, unlock or disable accounts, inspect users
// and the audit trail, and load-test session validation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(newApp(os.Stdout)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
