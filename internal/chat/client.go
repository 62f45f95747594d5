package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/RichardoC/forumtech/internal/errors"
	"github.com/RichardoC/forumtech/internal/models"
	"github.com/RichardoC/forumtech/internal/stream"
)

// ChatPath is where the gateway listens.
const ChatPath = "/api/chat"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

// Client talks to a chat gateway over HTTP. It implements Streamer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the gateway at baseURL. A nil httpClient
// means http.DefaultClient; it should not carry a Timeout shorter than the
// gateway's duration ceiling.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Stream posts the conversation and returns a reader over the answer. A
// non-200 answer is returned as *errors.GatewayError.
func (c *Client) Stream(ctx context.Context, history []models.Message) (ChunkReader, error) {
	payload, err := json.Marshal(models.ChatRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &apierrors.GatewayError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return &httpChunkReader{body: resp.Body, parts: stream.NewReader(resp.Body)}, nil
}

type httpChunkReader struct {
	body  io.ReadCloser
	parts *stream.Reader
	done  bool
}

// Recv returns the next text fragment. An error part from the gateway is
// returned as an error carrying its message; a body that ends without a
// finish part yields io.ErrUnexpectedEOF.
func (r *httpChunkReader) Recv() (string, error) {
	if r.done {
		return "", io.EOF
	}
	for {
		p, err := r.parts.Next()
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", fmt.Errorf("stream interrupted: %w", err)
		}

		switch p.Type {
		case stream.PartText:
			if p.Text == "" {
				continue
			}
			return p.Text, nil
		case stream.PartError:
			return "", &StreamError{Message: p.Text}
		case stream.PartFinish:
			r.done = true
			return "", io.EOF
		}
	}
}

func (r *httpChunkReader) Close() error {
	return r.body.Close()
}

// StreamError is an error reported by the gateway after streaming began.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}
