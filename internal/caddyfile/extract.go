package caddyfile

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// RawBlock is one annotated site block as it appears in the document, before
// duplicate names are merged.
type RawBlock struct {
	Name           string
	LocalAddress   string
	Domains        []string
	RemotePort     int
	Upstream       string
	Body           []string
	AnnotationLine int
	Line           int
}

// Result is everything Extract recovered from one document.
type Result struct {
	Blocks   []RawBlock
	Warnings []Warning
}

type state int

const (
	seekingAnnotation state = iota
	seekingBlockOpen
	inBlockBody
)

func (s state) String() string {
	switch s {
	case seekingBlockOpen:
		return "seeking_block_open"
	case inBlockBody:
		return "in_block_body"
	default:
		return "seeking_annotation"
	}
}

type annotation struct {
	name         string
	localAddress string
	line         int
}

type openBlock struct {
	annotation *annotation
	silent     bool
	domains    []string
	line       int
	body       []string
	upstream   string
	remotePort int
	hasPort    bool
}

// extractor walks lines through seeking_annotation -> seeking_block_open ->
// in_block_body(depth). Only the in_block_body state looks at braces.
type extractor struct {
	state    state
	pending  *annotation
	block    *openBlock
	depth    int
	blocks   []RawBlock
	warnings []Warning
}

// Extract scans proxy configuration text and returns the annotated site blocks
// in document order. It never fails: malformed content becomes warnings.
func Extract(text string) Result {
	x := &extractor{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		x.step(i+1, strings.TrimSpace(raw))
	}
	x.finish()
	return Result{Blocks: x.blocks, Warnings: x.warnings}
}

func (x *extractor) step(lineNo int, line string) {
	switch x.state {
	case inBlockBody:
		x.consumeBody(line)
	case seekingBlockOpen:
		x.seekBlockOpen(lineNo, line)
	default:
		x.seekAnnotation(lineNo, line)
	}
}

func (x *extractor) seekAnnotation(lineNo int, line string) {
	if ann, ok := x.readAnnotation(lineNo, line); ok {
		x.pending = ann
		x.state = seekingBlockOpen
		return
	}
	x.tryOpen(lineNo, line)
}

func (x *extractor) seekBlockOpen(lineNo int, line string) {
	if line == "" {
		return
	}
	if ann, ok := x.readAnnotation(lineNo, line); ok {
		x.dropPending()
		x.pending = ann
		return
	}
	if strings.HasPrefix(line, "#") {
		return
	}
	if x.tryOpen(lineNo, line) {
		return
	}
	x.dropPending()
	x.state = seekingAnnotation
}

// readAnnotation matches the strict annotation grammar and reports comments
// that look like annotations but do not parse.
func (x *extractor) readAnnotation(lineNo int, line string) (*annotation, bool) {
	if !strings.HasPrefix(line, "#") {
		return nil, false
	}
	if m := annotationPattern.FindStringSubmatch(line); m != nil {
		return &annotation{
			name:         m[1],
			localAddress: m[2] + ":" + m[3],
			line:         lineNo,
		}, true
	}
	if m := looseAnnotationPattern.FindStringSubmatch(line); m != nil {
		x.warn(lineNo, SeverityWarning, m[1], "malformed service annotation %q (expected \"# name: host:port\")", line)
	}
	return nil, false
}

func (x *extractor) tryOpen(lineNo int, line string) bool {
	if strings.HasPrefix(line, "{") || (strings.HasPrefix(line, "(") && strings.Contains(line, "{")) {
		x.dropPending()
		x.open(&openBlock{silent: true, line: lineNo}, line[strings.Index(line, "{")+1:])
		return true
	}
	m := blockOpenPattern.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	block := &openBlock{
		annotation: x.pending,
		domains:    splitAddresses(m[1]),
		line:       lineNo,
	}
	x.pending = nil
	if block.annotation == nil {
		x.warn(lineNo, SeverityWarning, "", "domain block without service annotation (%s)", strings.Join(block.domains, ", "))
	}
	x.open(block, m[2])
	return true
}

func (x *extractor) open(block *openBlock, rest string) {
	x.block = block
	x.state = inBlockBody
	x.depth = 1
	x.consumeBody(strings.TrimSpace(rest))
}

func (x *extractor) consumeBody(line string) {
	x.depth += strings.Count(line, "{") - strings.Count(line, "}")
	block := x.block
	if line != "" && line != "}" {
		block.body = append(block.body, line)
	}
	if !block.hasPort {
		if m := reverseProxyPattern.FindStringSubmatch(line); m != nil {
			block.upstream = m[1] + ":" + m[2]
			block.remotePort = parsePort(m[2])
			block.hasPort = true
		}
	}
	if x.depth <= 0 {
		x.closeBlock()
	}
}

func (x *extractor) closeBlock() {
	block := x.block
	x.block = nil
	x.depth = 0
	x.state = seekingAnnotation

	ann := block.annotation
	if ann == nil {
		return
	}
	if !block.hasPort {
		x.warn(block.line, SeverityWarning, ann.name, "service block without upstream port (service %s)", ann.name)
		return
	}
	x.blocks = append(x.blocks, RawBlock{
		Name:           ann.name,
		LocalAddress:   ann.localAddress,
		Domains:        block.domains,
		RemotePort:     block.remotePort,
		Upstream:       block.upstream,
		Body:           block.body,
		AnnotationLine: ann.line,
		Line:           block.line,
	})
}

func (x *extractor) dropPending() {
	if x.pending == nil {
		return
	}
	x.warn(x.pending.line, SeverityWarning, x.pending.name, "service annotation without domain block (service %s)", x.pending.name)
	x.pending = nil
}

func (x *extractor) finish() {
	switch x.state {
	case inBlockBody:
		block := x.block
		switch {
		case block.silent:
			x.warn(block.line, SeverityError, "", "unterminated options or snippet block")
		case block.annotation != nil:
			x.warn(block.line, SeverityError, block.annotation.name, "unterminated domain block %s (service %s)", strings.Join(block.domains, ", "), block.annotation.name)
		default:
			x.warn(block.line, SeverityError, "", "unterminated domain block %s", strings.Join(block.domains, ", "))
		}
		x.block = nil
	case seekingBlockOpen:
		x.dropPending()
	}
	x.state = seekingAnnotation
}

func (x *extractor) warn(lineNo int, severity Severity, service string, format string, args ...any) {
	x.warnings = append(x.warnings, Warning{
		Line:     lineNo,
		Severity: severity,
		Service:  service,
		Message:  fmt.Sprintf(format, args...),
	})
}

func splitAddresses(token string) []string {
	return strings.FieldsFunc(token, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// parsePort returns 0 for digit runs that overflow; the normalizer rejects it.
func parsePort(digits string) int {
	port, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return port
}
