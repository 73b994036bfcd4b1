package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeModels struct {
	gotModel    string
	gotContents []*genai.Content
	resp        *genai.GenerateContentResponse
	err         error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotContents = contents
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(s, genai.RoleModel),
		}},
	}
}

func TestNewGeminiValidatesConfig(t *testing.T) {
	_, err := NewGemini(context.Background(), Config{Model: "gemini-1.5-flash"}, nil)
	assert.ErrorContains(t, err, "API key")

	_, err = NewGemini(context.Background(), Config{APIKey: "k"}, nil)
	assert.ErrorContains(t, err, "model")
}

func TestAnalyzeSendsPromptAndImage(t *testing.T) {
	fake := &fakeModels{resp: textResponse("<p>a cat</p>")}
	g := &Gemini{models: fake, model: "gemini-1.5-flash", logger: zap.NewNop()}

	out, err := g.Analyze(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, "<p>a cat</p>", out)
	assert.Equal(t, "gemini-1.5-flash", fake.gotModel)

	require.Len(t, fake.gotContents, 1)
	parts := fake.gotContents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, Prompt, parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, parts[1].InlineData.Data)
}

func TestAnalyzeErrors(t *testing.T) {
	g := &Gemini{models: &fakeModels{}, model: "m", logger: zap.NewNop()}
	_, err := g.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoImage)

	g.models = &fakeModels{err: errors.New("quota exceeded")}
	_, err = g.Analyze(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "quota exceeded")

}

func TestAnalyzeReturnsEmptyTextVerbatim(t *testing.T) {
	g := &Gemini{models: &fakeModels{resp: &genai.GenerateContentResponse{}}, model: "m", logger: zap.NewNop()}
	out, err := g.Analyze(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFuncAdapter(t *testing.T) {
	var a Analyzer = Func(func(_ context.Context, img []byte) (string, error) {
		return string(img), nil
	})
	out, err := a.Analyze(context.Background(), []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
