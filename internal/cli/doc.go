// Package cli turns command-line arguments and an optional YAML file into a
// validated app.Config. Usage errors are reported as ExitError values that
// carry the process exit code.
package cli
