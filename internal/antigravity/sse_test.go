package antigravity

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	body := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}}`)
	require.Equal(t, "hello world", ExtractText(body))

	// Candidates may also sit at the top level.
	body = []byte(`{"candidates":[{"content":{"parts":[{"text":"plain"}]}}]}`)
	require.Equal(t, "plain", ExtractText(body))

	require.Equal(t, "", ExtractText([]byte(`{}`)))
}

func TestExtractTextDropsThoughtParts(t *testing.T) {
	// A part carrying a thought marker is dropped even when it has text.
	body := []byte(`{"response":{"candidates":[{"content":{"parts":[
		{"thought":true,"text":"internal reasoning"},
		{"thought":false,"text":"still a thought part"},
		{"text":"visible"}
	]}}]}}`)
	require.Equal(t, "visible", ExtractText(body))
}

func TestCollectText(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"one "}]}}]}}`,
		``,
		`: comment line`,
		`data: {"response":{"candidates":[{"content":{"parts":[{"thought":true,"text":"skip"}]}}]}}`,
		`data: not json`,
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"two"}]}}]}}`,
		`data: [DONE]`,
	}, "\n")
	require.Equal(t, "one two", CollectText([]byte(payload)))
}

func TestSSEPayload(t *testing.T) {
	data, ok := ssePayload([]byte(`data: {"a":1}`))
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(data))

	_, ok = ssePayload([]byte(`event: ping`))
	require.False(t, ok)
	_, ok = ssePayload([]byte(`data: [DONE]`))
	require.False(t, ok)
	_, ok = ssePayload([]byte(`data:`))
	require.False(t, ok)
}

func TestStreamText(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}}`,
		`data: {"response":{"candidates":[{"content":{"parts":[{"thought":true,"text":"x"}]}}]}}`,
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":"b"}]}}]}}`,
		`data: [DONE]`,
		``,
	}, "\n")

	texts, errs := StreamText(context.Background(), io.NopCloser(strings.NewReader(payload)))
	var got []string
	for text := range texts {
		got = append(got, text)
	}
	require.Equal(t, []string{"a", "b"}, got)
	require.Nil(t, <-errs)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
func (failingReader) Close() error             { return nil }

func TestStreamTextReadFailure(t *testing.T) {
	texts, errs := StreamText(context.Background(), failingReader{})
	for range texts {
	}
	em := <-errs
	require.NotNil(t, em)
	require.Equal(t, 500, em.StatusCode)
	require.ErrorIs(t, em.Error, io.ErrUnexpectedEOF)
}

func TestStreamTextContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := `data: {"response":{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}}` + "\n"
	texts, errs := StreamText(ctx, io.NopCloser(strings.NewReader(payload)))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-texts:
			if !ok {
				require.Nil(t, <-errs)
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
