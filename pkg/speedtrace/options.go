package speedtrace

import "github.com/crimson-sun/speedtrace/internal/engine/urlclass"

type options struct {
	patterns     urlclass.Patterns
	openingEvent string
	intervalMs   int64
}

// Option configures an Analyzer.
type Option func(*options)

// WithFragments sets the URL fragments that mark download, upload and
// latency-probe requests. Empty arguments keep the default for that class.
func WithFragments(download, upload, hello string) Option {
	return func(o *options) {
		if download != "" {
			o.patterns.Download = download
		}
		if upload != "" {
			o.patterns.Upload = upload
		}
		if hello != "" {
			o.patterns.Hello = hello
		}
	}
}

// WithHosts restricts classification to URLs containing one of hosts.
func WithHosts(hosts ...string) Option {
	return func(o *options) {
		o.patterns.Hosts = hosts
	}
}

// WithOpeningEvent sets the event type that marks a new request stream.
// Default: REQUEST_ALIVE.
func WithOpeningEvent(name string) Option {
	return func(o *options) {
		o.openingEvent = name
	}
}

// WithInterval sets the minimum window, in milliseconds, one throughput
// sample covers. Default: 50.
func WithInterval(ms int64) Option {
	return func(o *options) {
		o.intervalMs = ms
	}
}

func defaultOptions() options {
	return options{patterns: urlclass.DefaultPatterns()}
}
