// Package cli builds the command trees of the pado and pado-transporter
// binaries. Commands write to the configured writers and report failures
// as errors, process-level concerns like exit codes are mapped by Execute.
package cli
