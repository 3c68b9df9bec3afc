// Package flags holds the command line flags and logger setup shared by the
// binaries under cmd/.
package flags
