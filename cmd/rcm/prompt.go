package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// confirm asks a yes/no question. Anything but y/yes, including EOF, is no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	line, err := promptLine(bufio.NewReader(in), out, question+" [y/N]")
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(out)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func promptLine(r *bufio.Reader, out io.Writer, label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
