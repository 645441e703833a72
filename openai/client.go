// Package openai wraps the text and speech endpoints the meditation pipeline uses.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"visualize-backend/config"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	api       *openai.Client
	textModel string
	ttsModel  string
	voice     string
}

// NewClient returns nil when no API key is configured.
func NewClient(cfg config.OpenAIConfig) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	return NewClientWithConfig(openai.DefaultConfig(cfg.APIKey), cfg)
}

// NewClientWithConfig lets tests point the client at a local server.
func NewClientWithConfig(apiCfg openai.ClientConfig, cfg config.OpenAIConfig) *Client {
	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		textModel: cfg.TextModel,
		ttsModel:  cfg.TTSModel,
		voice:     cfg.TTSVoice,
	}
}

func (c *Client) request(system, prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.textModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

// GenerateText returns the whole completion.
func (c *Client) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(system, prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// StreamText sends completion deltas on the returned channel, which closes
// when the stream ends, fails, or ctx is done. Once it is closed, the error
// channel yields the failure, or nothing after a clean end of stream.
func (c *Client) StreamText(ctx context.Context, system, prompt string) (<-chan string, <-chan error, error) {
	req := c.request(system, prompt)
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errc <- err
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- resp.Choices[0].Delta.Content:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return ch, errc, nil
}

// Synthesize renders text to mp3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("empty speech response")
	}
	return audio, nil
}
