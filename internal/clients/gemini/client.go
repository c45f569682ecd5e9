// Package gemini provides the C5 generation backend client: a synchronous
// image generation call and an asynchronous start/poll video operation,
// wrapping google.golang.org/genai the way the teacher's text-generation
// client already does (functional options, response-unwrapping helpers),
// generalized from text output to image/video modalities.
package gemini

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

const (
	DefaultImageModel = "gemini-2.5-flash-image"
	DefaultVideoModel = "veo-3.0-generate-001"
)

// Client implements interfaces.GenerationClient.
type Client struct {
	client     *genai.Client
	imageModel string
	videoModel string
	logger     *common.Logger

	// limiter paces outbound calls client-side, independent of however many
	// goroutines C7's worker pool lets into GenerateImage/StartVideo at
	// once — a second rate.Limiter guarding Gemini's own API limits, the
	// same pattern the worker pool's dispatch limiter uses, applied here to
	// the client that actually talks to the backend.
	limiter *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithImageModel sets the image generation model.
func WithImageModel(model string) ClientOption {
	return func(c *Client) { c.imageModel = model }
}

// WithVideoModel sets the video generation model.
func WithVideoModel(model string) ClientOption {
	return func(c *Client) { c.videoModel = model }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit sets the client-side token bucket pacing outbound calls.
// ratePerSecond <= 0 leaves calls unthrottled at this layer.
func WithRateLimit(ratePerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if ratePerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
}

// NewClient creates a new Gemini generation client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:     genaiClient,
		imageModel: DefaultImageModel,
		videoModel: DefaultVideoModel,
		logger:     common.NewSilentLogger(),
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateImage synthesizes a single image from prompt and returns the raw
// bytes plus content type (C5's generate_image operation, sync per spec).
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", errs.Wrap(errs.KindThrottled, "client-side rate limit wait canceled", err)
	}
	c.logger.Debug().Str("model", c.imageModel).Msg("generating image")

	contents := genai.Text(prompt)
	result, err := c.client.Models.GenerateContent(ctx, c.imageModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	})
	if err != nil {
		return nil, "", classifyGenAIError(err)
	}

	data, mime, err := extractImageFromResponse(result)
	if err != nil {
		return nil, "", errs.Wrap(errs.KindBackendUnavailable, "no image in response", err)
	}
	return data, mime, nil
}

// extractImageFromResponse pulls the first inline image part out of a
// GenerateContent response, the image-modality counterpart of the teacher's
// extractTextFromResponse helper.
func extractImageFromResponse(result *genai.GenerateContentResponse) ([]byte, string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, "", fmt.Errorf("no candidates in response")
	}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return part.InlineData.Data, mime, nil
		}
	}
	return nil, "", fmt.Errorf("no inline image data in response parts")
}

// StartVideo begins an async video generation operation (C5's
// generate_video start half) and returns an opaque operation name for
// PollVideo to poll.
func (c *Client) StartVideo(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errs.Wrap(errs.KindThrottled, "client-side rate limit wait canceled", err)
	}
	c.logger.Debug().Str("model", c.videoModel).Msg("starting video generation")

	op, err := c.client.Models.GenerateVideos(ctx, c.videoModel, prompt, nil, nil)
	if err != nil {
		return "", classifyGenAIError(err)
	}
	return op.Name, nil
}

// PollVideo checks an operation started by StartVideo. done=false means the
// caller should poll again after a backoff interval; done=true with a nil
// error means the video bytes are ready.
func (c *Client) PollVideo(ctx context.Context, operationName string) (bool, []byte, string, error) {
	op := &genai.GenerateVideosOperation{Name: operationName}
	op, err := c.client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return false, nil, "", classifyGenAIError(err)
	}
	if !op.Done {
		return false, nil, "", nil
	}
	if op.Error != nil {
		return true, nil, "", errs.New(errs.KindPolicyBlocked, op.Error.Message)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return true, nil, "", errs.New(errs.KindBackendUnavailable, "video operation completed with no output")
	}

	video := op.Response.GeneratedVideos[0].Video
	if video == nil || len(video.VideoBytes) == 0 {
		return true, nil, "", errs.New(errs.KindBackendUnavailable, "video operation completed with empty payload")
	}
	mime := video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return true, video.VideoBytes, mime, nil
}

// classifyGenAIError maps a raw genai SDK error into the pipeline's tagged
// error taxonomy. The SDK surfaces HTTP status via APIError; anything we
// can't classify more precisely falls back to backend_unavailable so the
// worker pool treats it as transient and lets queue redelivery retry it.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.Code {
		case 429:
			return errs.Wrap(errs.KindThrottled, "gemini rate limited", err)
		case 400, 403:
			return errs.Wrap(errs.KindPolicyBlocked, "gemini rejected the request", err)
		}
	}
	return errs.Wrap(errs.KindBackendUnavailable, "gemini call failed", err)
}

func asAPIError(err error, target *genai.APIError) bool {
	apiErr, ok := err.(genai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

var _ interfaces.GenerationClient = (*Client)(nil)
