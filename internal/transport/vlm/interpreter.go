// Package vlm answers questions about page images through an OpenAI-compatible
// vision-language chat completion API (e.g. vLLM serving Qwen2-VL).
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// NoAnswer is the phrase the model is told to reply with when the page does not answer the query.
const NoAnswer = "I am sorry, I can't find enough relevant information on these pages to answer your question."

const instruction = `If the user query is a question, try your best to answer it based on the provided images.
If the user query can not be interpreted as a question, or if the answer to the query can not be inferred from the images,
answer with the exact phrase "` + NoAnswer + `".`

// Config holds the interpreter settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxImageSide int
	Timeout      time.Duration
	JPEGQuality  int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Interpreter sends one page image plus the user query to a chat model.
type Interpreter struct {
	client  *openai.Client
	model   string
	maxSide int
	quality int
	logger  *zap.Logger
}

// New creates an interpreter. It returns nil when BaseURL is empty, which disables interpretation.
func New(cfg Config) *Interpreter {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = "Qwen2-VL-7B-Instruct"
	}
	if cfg.MaxImageSide <= 0 {
		cfg.MaxImageSide = 512
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	switch {
	case cfg.HTTPClient != nil:
		clientCfg.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Interpreter{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		maxSide: cfg.MaxImageSide,
		quality: cfg.JPEGQuality,
		logger:  cfg.Logger,
	}
}

// Ask returns the model's answer to query over img.
func (i *Interpreter) Ask(ctx context.Context, query string, img image.Image) (string, error) {
	dataURL, err := i.encode(img)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: i.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: instruction},
				{Type: openai.ChatMessagePartTypeText, Text: query},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
				},
			},
		}},
	}

	start := time.Now()
	resp, err := i.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("interpreter returned no choices")
	}

	i.logger.Debug("Page interpreted",
		zap.String("model", i.model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// encode downsizes img so its longest side fits maxSide and returns it as a JPEG data URL.
func (i *Interpreter) encode(img image.Image) (string, error) {
	img = thumbnail(img, i.maxSide)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: i.quality}); err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// thumbnail keeps the aspect ratio and never upscales.
func thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}

	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("interpreter API error %d: %s", reqErr.HTTPStatusCode, detail)
		}
		return fmt.Errorf("interpreter API error %d: %w", reqErr.HTTPStatusCode, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("interpreter API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	return fmt.Errorf("interpreter request failed: %w", err)
}

// extractDetail reads the "detail" field vLLM and FastAPI servers put in error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
