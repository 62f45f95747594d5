// Package stream implements the line-oriented data stream used between the
// chat gateway and its clients. Each line is one part: a type code, a colon
// and a JSON value.
//
//	0:"Bon"
//	0:"jour"
//	d:{"finishReason":"stop"}
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// PartType is the code prefix of a stream line.
type PartType byte

const (
	PartText   PartType = '0'
	PartError  PartType = '3'
	PartFinish PartType = 'd'
)

// FinishStop is the finish reason of a stream that ran to completion.
const FinishStop = "stop"

// MaxLineSize bounds a single part on the reading side.
const MaxLineSize = 1024 * 1024

// Part is one decoded stream line.
type Part struct {
	Type         PartType
	Text         string
	FinishReason string
}

// Writer writes parts to an HTTP response. The status line and headers are
// committed by the first write so a caller can still send a plain error
// response as long as Started reports false.
type Writer struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{w: w, rc: http.NewResponseController(w)}
}

// Started reports whether headers have been sent.
func (sw *Writer) Started() bool {
	return sw.started
}

// WriteText sends one text fragment and flushes it.
func (sw *Writer) WriteText(text string) error {
	return sw.writePart(PartText, text)
}

// WriteError sends an error part. Used once streaming has begun and the
// status code can no longer change.
func (sw *Writer) WriteError(message string) error {
	return sw.writePart(PartError, message)
}

// Finish terminates the stream.
func (sw *Writer) Finish(reason string) error {
	return sw.writePart(PartFinish, struct {
		FinishReason string `json:"finishReason"`
	}{reason})
}

func (sw *Writer) writePart(t PartType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode stream part: %w", err)
	}
	if !sw.started {
		h := sw.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("X-Vercel-AI-Data-Stream", "v1")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	if _, err := fmt.Fprintf(sw.w, "%c:%s\n", t, payload); err != nil {
		return fmt.Errorf("failed to write stream part: %w", err)
	}
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to flush stream part: %w", err)
	}
	return nil
}

// Reader decodes parts from a stream body.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next known part. Blank lines and unknown part codes are
// skipped. It returns io.EOF when the body ends.
func (r *Reader) Next() (Part, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		code, payload, ok := strings.Cut(line, ":")
		if !ok || len(code) != 1 {
			return Part{}, fmt.Errorf("malformed stream line %q", truncate(line, 80))
		}
		if !gjson.Valid(payload) {
			return Part{}, fmt.Errorf("malformed stream payload %q", truncate(payload, 80))
		}
		value := gjson.Parse(payload)

		switch PartType(code[0]) {
		case PartText:
			if value.Type != gjson.String {
				return Part{}, fmt.Errorf("text part is not a string: %s", truncate(payload, 80))
			}
			return Part{Type: PartText, Text: value.String()}, nil
		case PartError:
			return Part{Type: PartError, Text: value.String()}, nil
		case PartFinish:
			return Part{Type: PartFinish, FinishReason: value.Get("finishReason").String()}, nil
		}
	}
	if err := r.sc.Err(); err != nil {
		return Part{}, err
	}
	return Part{}, io.EOF
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
