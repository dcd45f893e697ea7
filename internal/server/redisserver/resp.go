package redisserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol limits.
const (
	// MaxArrayLen limits the number of arguments of one command.
	MaxArrayLen = 64 * 1024

	// MaxBulkLen limits the size of one argument.
	MaxBulkLen = 64 << 20

	// MaxInlineLen limits an inline command line.
	MaxInlineLen = 64 * 1024
)

var (
	ErrProtocol      = errors.New("resp: protocol error")
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// ReadCommand reads one command, either a RESP array of bulk strings or an
// inline line. It returns nil args for an empty command.
func ReadCommand(r *bufio.Reader) ([][]byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	if b[0] == '*' {
		return readArray(r)
	}

	line, err := readLine(r, MaxInlineLen)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(fields))
	for i, f := range fields {
		out[i] = []byte(f)
	}
	return out, nil
}

func readArray(r *bufio.Reader) ([][]byte, error) {
	n, err := readLength(r, '*', MaxArrayLen)
	if err != nil || n <= 0 {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

func readBulk(r *bufio.Reader) ([]byte, error) {
	n, err := readLength(r, '$', MaxBulkLen)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[:n], nil
}

// readLength reads a "<prefix><n>\r\n" header. -1 is the null length.
func readLength(r *bufio.Reader, prefix byte, limit int) (int, error) {
	line, err := readLine(r, 32)
	if err != nil {
		return 0, err
	}
	if len(line) < 2 || line[0] != prefix {
		return 0, fmt.Errorf("%w: expected '%c'", ErrProtocol, prefix)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < -1 {
		return 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, line[1:])
	}
	if n > limit {
		return 0, fmt.Errorf("%w: length %d exceeds %d", ErrLimitExceeded, n, limit)
	}
	return n, nil
}

func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > maxLen+2 {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrLimitExceeded, maxLen)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", err
		}
	}
	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		return "", fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return string(buf[:len(buf)-2]), nil
}

// reply writes RESP2 values. Write errors surface on Flush.
type reply struct {
	w *bufio.Writer
}

func (r reply) simple(s string) {
	r.w.WriteByte('+')
	r.w.WriteString(s)
	r.w.WriteString("\r\n")
}

func (r reply) ok() { r.simple("OK") }

// err writes s as an error reply. s starts with the error prefix, such
// as "ERR" or "LOADING".
func (r reply) err(s string) {
	r.w.WriteByte('-')
	r.w.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
	r.w.WriteString("\r\n")
}

func (r reply) integer(n int64) {
	r.w.WriteByte(':')
	r.w.WriteString(strconv.FormatInt(n, 10))
	r.w.WriteString("\r\n")
}

func (r reply) null() {
	r.w.WriteString("$-1\r\n")
}

func (r reply) bulk(b []byte) {
	if b == nil {
		r.null()
		return
	}
	r.w.WriteByte('$')
	r.w.WriteString(strconv.Itoa(len(b)))
	r.w.WriteString("\r\n")
	r.w.Write(b)
	r.w.WriteString("\r\n")
}

func (r reply) bulkString(s string) {
	r.bulk([]byte(s))
}

func (r reply) array(n int) {
	r.w.WriteByte('*')
	r.w.WriteString(strconv.Itoa(n))
	r.w.WriteString("\r\n")
}

func (r reply) bulks(items [][]byte) {
	r.array(len(items))
	for _, it := range items {
		if it == nil {
			it = []byte{}
		}
		r.bulk(it)
	}
}

func (r reply) bulkStrings(items []string) {
	r.array(len(items))
	for _, it := range items {
		r.bulkString(it)
	}
}

// commandName upper-cases ASCII without allocating for upper-case input.
func commandName(b []byte) string {
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
