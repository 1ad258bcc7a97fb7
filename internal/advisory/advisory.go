// Package advisory produces plain-language health recommendations for the
// dashboard, using OpenAI when configured and static text otherwise.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/aqiforecast/internal/aqi"
)

const systemPrompt = `You write short public health advice for a city air quality dashboard.
Reply with at most two plain sentences. No greetings, no markdown, no numbers the user did not give you.`

// Situation is what the advice is about.
type Situation struct {
	Current aqi.Category
	AQI     float64
	Peak    aqi.Category // empty when no forecast is available
	PeakAt  time.Time
	Hour    int
}

type cacheKey struct {
	current aqi.Category
	peak    aqi.Category
	hour    int
}

// Advisor returns advice for a situation. It never fails: any problem with the
// model falls back to the category's static advice.
type Advisor struct {
	client  *openai.Client
	model   string
	timeout time.Duration

	mu    sync.Mutex
	cache map[cacheKey]string
}

// New returns an Advisor. With an empty apiKey only static advice is used.
func New(apiKey string, opts ...option.RequestOption) *Advisor {
	a := &Advisor{
		model:   openai.ChatModelGPT4oMini,
		timeout: 20 * time.Second,
		cache:   make(map[cacheKey]string),
	}
	if apiKey != "" {
		client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
		a.client = &client
	}
	return a
}

// Enabled reports whether advice is generated by the model.
func (a *Advisor) Enabled() bool {
	return a.client != nil
}

func (a *Advisor) Advice(ctx context.Context, s Situation) string {
	if a.client == nil {
		return staticAdvice(s)
	}

	key := cacheKey{current: s.Current, peak: s.Peak, hour: s.Hour}
	a.mu.Lock()
	if text, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return text
	}
	a.mu.Unlock()

	text, err := a.generate(ctx, s)
	if err != nil {
		log.Printf("advisory: %v", err)
		return staticAdvice(s)
	}

	a.mu.Lock()
	a.cache[key] = text
	a.mu.Unlock()
	return text
}

func (a *Advisor) generate(ctx context.Context, s Situation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt(s)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty advice returned")
	}
	return text, nil
}

func prompt(s Situation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current US AQI is %.0f (%s) at %02d:00 local time.", s.AQI, s.Current, s.Hour)
	if s.Peak != "" {
		fmt.Fprintf(&b, " Over the next 24 hours the forecast peaks at %s around %s.", s.Peak, s.PeakAt.Format("15:04"))
	}
	b.WriteString(" What should residents, especially sensitive groups, do today?")
	return b.String()
}

func staticAdvice(s Situation) string {
	text := s.Current.Advice()
	if s.Peak != "" && s.Peak.Severity() > s.Current.Severity() {
		text += fmt.Sprintf(" Air quality is expected to worsen to %s around %s.", s.Peak, s.PeakAt.Format("15:04"))
	}
	return text
}
