// Package subprocess runs the agent as a child process and carries
// newline-delimited JSON over its stdin and stdout.
//
// Stdout is decoded lazily, one object per line. Stderr is drained
// continuously so the child never blocks on a full pipe. Close escalates
// from closing stdin, to SIGTERM, to SIGKILL after a grace period.
package subprocess
