// Package cli locates the agent executable and builds the command line and
// environment it is launched with.
//
// Discovery searches in the following order:
//  1. Options.CliPath, if set (and only that path)
//  2. "claude" on PATH
//  3. Common installation directories (/usr/local/bin, /usr/bin,
//     ~/.local/bin, ~/.claude/local)
//
// The launched agent always speaks stream-json on both stdin and stdout.
package cli
