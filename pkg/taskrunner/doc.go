// Package taskrunner exposes the pipeline execution engine to embedding
// callers and prints the end-of-run report and summary line.
package taskrunner
