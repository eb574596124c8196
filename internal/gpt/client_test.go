package gpt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astro-bot/internal/models"
)

type stubCompleter struct {
	errs  []error
	reply string
	calls int
	last  openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.last = req
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.reply}}},
	}, nil
}

func newTestClient(s *stubCompleter) *Client {
	c := NewClient("key")
	c.client = s
	c.backoff = time.Millisecond
	return c
}

func TestGenerate_BuildsRequest(t *testing.T) {
	s := &stubCompleter{reply: "report"}
	c := newTestClient(s).WithModel("gpt-test").WithMaxTokens(100)

	out, err := c.Generate(context.Background(), []Message{System("sys"), User("hi")}, 0)
	require.NoError(t, err)

	assert.Equal(t, "report", out)
	assert.Equal(t, "gpt-test", s.last.Model)
	assert.Equal(t, 100, s.last.MaxTokens)
	require.Len(t, s.last.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, s.last.Messages[0].Role)
	assert.Equal(t, "hi", s.last.Messages[1].Content)

	_, err = c.Generate(context.Background(), []Message{User("hi")}, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, s.last.MaxTokens)
}

func TestGenerate_Retries(t *testing.T) {
	s := &stubCompleter{errs: []error{errors.New("503")}, reply: "ok"}
	c := newTestClient(s).WithRetries(1)

	out, err := c.Generate(context.Background(), []Message{User("hi")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, s.calls)
}

func TestGenerate_GivesUp(t *testing.T) {
	boom := errors.New("503")
	s := &stubCompleter{errs: []error{boom, boom, boom}}
	c := newTestClient(s).WithRetries(2)

	_, err := c.Generate(context.Background(), []Message{User("hi")}, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, s.calls)
}

func TestBuildPrompts(t *testing.T) {
	u := models.NewUser(1, "Анна")

	_, err := BuildPrompts(models.ProductDestiny, u)
	assert.ErrorIs(t, err, ErrIncompleteProfile)

	u.Profile = models.Profile{
		BirthDate:    time.Date(1998, 3, 2, 0, 0, 0, 0, time.UTC),
		BirthCountry: "Латвия",
		BirthCity:    "Рига",
	}

	parts, err := BuildPrompts(models.ProductDestiny, u)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0][1].Content, "02.03.1998")
	assert.Contains(t, parts[0][1].Content, "неизвестно")
	assert.Contains(t, parts[1][1].Content, "Латвия, Рига")

	_, err = BuildPrompts(models.ProductCompatibility, u)
	assert.ErrorIs(t, err, ErrNoPartner)

	u.Partner = models.Partner{Name: "Иван", Profile: models.Profile{BirthDate: time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)}}
	parts, err = BuildPrompts(models.ProductCompatibility, u)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0][1].Content, "Иван")

	for _, kind := range []models.ProductKind{models.ProductSolar, models.ProductIncome} {
		parts, err := BuildPrompts(kind, u)
		require.NoError(t, err, kind)
		assert.Len(t, parts, 1)
	}

	for _, p := range models.Products() {
		parts, err := BuildPrompts(p.Kind, u)
		require.NoError(t, err, p.Kind)
		assert.LessOrEqual(t, len(parts), MaxParts, p.Kind)
	}
}
