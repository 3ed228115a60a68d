// Package fetch provides the HTTP downloader for remote animated images.
package fetch

// Source describes a remote animated image to download.
// Integrity, when set, is the expected hex-encoded SHA-256 digest of the
// payload; the download fails if the received bytes hash differently.
type Source struct {
	URL       string
	Headers   map[string]string
	Integrity string
}

// Result holds a completed download.
// ETag and LastModified are passed through from the response headers when
// present so callers can implement their own caching.
type Result struct {
	Buffer        []byte
	ContentLength int64
	ETag          string
	LastModified  string
}
