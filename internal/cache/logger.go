package cache

import "log/slog"

// logger returns the package-wide logger. Sweep operations and the S3
// backend's cleanup after a failed put are the only things in this
// package that log on their own; everything else reports failures to
// the caller as errors instead.
func logger() *slog.Logger {
	return slog.Default().With("component", "cache")
}
