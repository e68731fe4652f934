package caddyfile

import "regexp"

var (
	// # name: host:port
	annotationPattern = regexp.MustCompile(`^#\s*([^:\s]+):\s*([^\s/]+):(\d+)$`)

	// A comment shaped like an annotation, including one with trailing text
	// after host:port; used only to report malformed ones.
	looseAnnotationPattern = regexp.MustCompile(`^#\s*([^:\s]+):\s*(?:\S+|\S*:\S*\s.*)$`)

	// a.example.com[, b.example.com] { [inline body]
	blockOpenPattern = regexp.MustCompile(`^([^\s{}#(][^{}#]*?)\s*\{(.*)$`)

	// reverse_proxy [matcher] [http(s)://]host:port
	reverseProxyPattern = regexp.MustCompile(`(?:^|\s)reverse_proxy\s+(?:[/@*]\S*\s+)?(?:https?://)?(\[[^\]]*\]|[^\s:/{}\[\]]+):(\d+)`)
)
