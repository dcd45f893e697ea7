package redisserver

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"array", "*1\r\n$4\r\nPING\r\n", []string{"PING"}},
		{"array with args", "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nv a l\r\n", []string{"SET", "k", "v a l"}},
		{"binary bulk", "*2\r\n$3\r\nGET\r\n$4\r\na\r\nb\r\n", []string{"GET", "a\r\nb"}},
		{"empty bulk", "*2\r\n$3\r\nGET\r\n$0\r\n\r\n", []string{"GET", ""}},
		{"empty array", "*0\r\n", nil},
		{"null array", "*-1\r\n", nil},
		{"inline", "SAVE df nightly\r\n", []string{"SAVE", "df", "nightly"}},
		{"inline extra spaces", "  PING   \r\n", []string{"PING"}},
		{"blank inline", "\r\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCommand(bufio.NewReader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadCommand: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d args, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if string(got[i]) != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadCommand_Pipelined(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*1\r\n$4\r\nPING\r\nDBSIZE\r\n"))
	for _, want := range []string{"PING", "DBSIZE"} {
		args, err := ReadCommand(r)
		if err != nil {
			t.Fatalf("ReadCommand: %v", err)
		}
		if len(args) != 1 || string(args[0]) != want {
			t.Errorf("args = %q, want [%s]", args, want)
		}
	}
}

func TestReadCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"bad array length", "*x\r\n", ErrProtocol},
		{"negative length", "*-2\r\n", ErrProtocol},
		{"missing bulk prefix", "*1\r\n:4\r\n", ErrProtocol},
		{"bad bulk terminator", "*1\r\n$4\r\nPINGxx", ErrProtocol},
		{"missing CRLF", "*1\n", ErrProtocol},
		{"array too long", "*99999999\r\n", ErrLimitExceeded},
		{"bulk too long", "*1\r\n$999999999\r\n", ErrLimitExceeded},
		{"inline too long", strings.Repeat("a", MaxInlineLen+10) + "\r\n", ErrLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCommand(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadCommand_Truncated(t *testing.T) {
	_, err := ReadCommand(bufio.NewReader(strings.NewReader("*2\r\n$3\r\nGET\r\n")))
	if err == nil {
		t.Fatal("expected error for truncated command")
	}
	if errors.Is(err, ErrProtocol) {
		t.Errorf("truncated input reported as protocol error: %v", err)
	}
}

func TestReply(t *testing.T) {
	tests := []struct {
		name  string
		write func(r reply)
		want  string
	}{
		{"ok", func(r reply) { r.ok() }, "+OK\r\n"},
		{"error", func(r reply) { r.err("ERR boom") }, "-ERR boom\r\n"},
		{"error newlines", func(r reply) { r.err("ERR a\r\nb") }, "-ERR a  b\r\n"},
		{"integer", func(r reply) { r.integer(-2) }, ":-2\r\n"},
		{"null", func(r reply) { r.null() }, "$-1\r\n"},
		{"nil bulk", func(r reply) { r.bulk(nil) }, "$-1\r\n"},
		{"empty bulk", func(r reply) { r.bulk([]byte{}) }, "$0\r\n\r\n"},
		{"bulk", func(r reply) { r.bulkString("hey") }, "$3\r\nhey\r\n"},
		{"bulks", func(r reply) { r.bulks([][]byte{[]byte("a"), nil}) }, "*2\r\n$1\r\na\r\n$0\r\n\r\n"},
		{"strings", func(r reply) { r.bulkStrings([]string{"x"}) }, "*1\r\n$1\r\nx\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			tt.write(reply{w: w})
			if err := w.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("wrote %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	for in, want := range map[string]string{"get": "GET", "BgSave": "BGSAVE", "PING": "PING", "x1": "X1"} {
		if got := commandName([]byte(in)); got != want {
			t.Errorf("commandName(%q) = %q, want %q", in, got, want)
		}
	}
}
