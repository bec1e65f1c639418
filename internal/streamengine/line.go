package streamengine

import (
	"bufio"
	"errors"
	"io"
)

var errLineTooLong = errors.New("streamengine: line exceeds configured maximum")

// readBoundedLine reads up to a newline or maxBytes, whichever comes first.
// If the line exceeds maxBytes, it discards the remainder up to the next
// newline and returns errLineTooLong with the returned bytes empty, so the
// caller can still continue reading subsequent lines.
func readBoundedLine(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			if len(line) > maxBytes {
				if discardErr := discardUntilNewline(r); discardErr != nil && discardErr != io.EOF {
					return nil, discardErr
				}
				return nil, errLineTooLong
			}
			continue
		}
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			if len(line) > maxBytes {
				return nil, errLineTooLong
			}
			return trimNewline(line), nil
		}
		if err != nil {
			return nil, err
		}
		if len(line) > maxBytes {
			return nil, errLineTooLong
		}
		return trimNewline(line), nil
	}
}

func discardUntilNewline(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	n = len(line)
	if n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
