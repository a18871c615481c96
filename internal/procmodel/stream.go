package procmodel

import (
	"bufio"
	"io"
)

// Scanner buffer sizing mirrors charliek-prox's internal/constants: start
// small, allow growth to a generous ceiling so one long line doesn't abort
// capture for the whole stream.
const (
	scannerInitialBufferSize = 64 * 1024
	scannerMaxBufferSize     = 1024 * 1024
)

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, scannerInitialBufferSize), scannerMaxBufferSize)
	return sc
}
