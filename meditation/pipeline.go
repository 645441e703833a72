// Package meditation turns a user's stored answers into a guided script and,
// when speech is available, narrated audio.
package meditation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"visualize-backend/apperr"
	"visualize-backend/metrics"
	"visualize-backend/responses"

	"github.com/sirupsen/logrus"
)

type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
	StreamText(ctx context.Context, system, prompt string) (<-chan string, <-chan error, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type AnswerSource interface {
	Latest(ctx context.Context, userID string) (responses.Answers, error)
}

// Meditation is one generated session. Audio is empty when speech failed;
// AudioError then carries the message shown to the user.
type Meditation struct {
	Focus       responses.Category `json:"focus,omitempty"`
	Script      string             `json:"script"`
	Audio       []byte             `json:"audio,omitempty"`
	AudioFormat string             `json:"audio_format,omitempty"`
	AudioError  string             `json:"audio_error,omitempty"`
}

var errNotConfigured = errors.New("not configured")

type Pipeline struct {
	answers AnswerSource
	text    TextGenerator
	speech  SpeechSynthesizer
	log     logrus.FieldLogger
}

// NewPipeline accepts nil generators; a missing text generator fails every
// request, a missing synthesizer yields text-only sessions.
func NewPipeline(answers AnswerSource, text TextGenerator, speech SpeechSynthesizer, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{answers: answers, text: text, speech: speech, log: log}
}

func (p *Pipeline) prompt(ctx context.Context, userID string, focus responses.Category) (string, error) {
	answers, err := p.answers.Latest(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(answers) == 0 {
		return "", apperr.NotFound("answer the intro questions first")
	}
	return BuildPrompt(answers, focus), nil
}

func (p *Pipeline) textFailure(userID string, err error) error {
	metrics.GenerationFailures.WithLabelValues("text").Inc()
	p.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Error("[meditation][text] generation failed")
	return apperr.External("meditation generation", err, apperr.RouteCategories)
}

// Generate produces the script and then the audio. A text failure aborts with
// a redirect to the category selection; a speech failure keeps the script.
func (p *Pipeline) Generate(ctx context.Context, userID string, focus responses.Category) (*Meditation, error) {
	prompt, err := p.prompt(ctx, userID, focus)
	if err != nil {
		return nil, err
	}
	if p.text == nil {
		return nil, p.textFailure(userID, errNotConfigured)
	}
	script, err := p.text.GenerateText(ctx, SystemPrompt, prompt)
	if err != nil {
		return nil, p.textFailure(userID, err)
	}

	m := &Meditation{Focus: focus, Script: script}
	if p.speech == nil {
		m.AudioError = "audio is unavailable right now"
		return m, nil
	}
	audio, err := p.speech.Synthesize(ctx, script)
	if err != nil {
		metrics.GenerationFailures.WithLabelValues("speech").Inc()
		p.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Warn("[meditation][speech] falling back to text only")
		m.AudioError = "audio is unavailable right now"
		return m, nil
	}
	m.Audio = audio
	m.AudioFormat = "mp3"
	return m, nil
}

// Stream yields the script as it is generated. Audio is not produced. A
// failure after the first token arrives on the error channel once the script
// channel closes, converted like any other text failure.
func (p *Pipeline) Stream(ctx context.Context, userID string, focus responses.Category) (<-chan string, <-chan error, error) {
	prompt, err := p.prompt(ctx, userID, focus)
	if err != nil {
		return nil, nil, err
	}
	if p.text == nil {
		return nil, nil, p.textFailure(userID, errNotConfigured)
	}
	ch, upstream, err := p.text.StreamText(ctx, SystemPrompt, prompt)
	if err != nil {
		return nil, nil, p.textFailure(userID, err)
	}
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if upstream == nil {
			return
		}
		err, ok := <-upstream
		if !ok || err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			// client went away
			errc <- err
			return
		}
		errc <- p.textFailure(userID, err)
	}()
	return ch, errc, nil
}

const SystemPrompt = `You are a calm meditation guide. Write a second-person guided visualization of about 400 words. ` +
	`Speak slowly and warmly, use present tense, and invite the listener to picture their goals as already achieved. ` +
	`Do not use headings, lists or stage directions.`

var labels = map[responses.Category]string{
	responses.Career:         "Career",
	responses.Finances:       "Finances",
	responses.PersonalGrowth: "Personal growth",
	responses.Confidence:     "Confidence",
	responses.Health:         "Health",
	responses.Relationships:  "Relationships",
	responses.Focus:          "Today's focus",
}

// BuildPrompt lists the answers in flow order. When focus names an answered
// category, the visualization is centered on it.
func BuildPrompt(answers responses.Answers, focus responses.Category) string {
	var b strings.Builder
	b.WriteString("The listener described these goals:\n")
	for _, cat := range append(append([]responses.Category{}, responses.Flow...), responses.Focus) {
		a, ok := answers[cat]
		if !ok || strings.TrimSpace(a.Response) == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", labels[cat], strings.TrimSpace(a.Response))
	}
	if a, ok := answers[focus]; ok && focus != "" {
		fmt.Fprintf(&b, "\nCenter this session on %s: %s\n", strings.ToLower(labels[focus]), strings.TrimSpace(a.Response))
	}
	return b.String()
}
