// SPDX-License-Identifier: MIT

package bedrock

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/eventkiosk/cardforge/internal/log"
)

// Nova Reel caps the seed at 2,147,483,646.
const maxVideoSeed = 2147483646

type videoRequest struct {
	TaskType          string            `json:"taskType"`
	TextToVideoParams textToVideoParams `json:"textToVideoParams"`
	VideoConfig       videoGenConfig    `json:"videoGenerationConfig"`
}

type textToVideoParams struct {
	Text   string            `json:"text"`
	Images []videoFirstFrame `json:"images"`
}

type videoFirstFrame struct {
	Format string           `json:"format"`
	Source videoImageSource `json:"source"`
}

type videoImageSource struct {
	Bytes string `json:"bytes"`
}

type videoGenConfig struct {
	DurationSeconds int    `json:"durationSeconds"`
	FPS             int    `json:"fps"`
	Dimension       string `json:"dimension"`
	Seed            int    `json:"seed"`
}

// VideoState is the poll-facing lifecycle of an async video invocation.
type VideoState string

const (
	VideoInProgress VideoState = "in_progress"
	VideoCompleted  VideoState = "completed"
	VideoFailed     VideoState = "failed"
)

// VideoStatus is the answer to a single poll of an async invocation.
// OutputURI is only meaningful once State is VideoCompleted.
type VideoStatus struct {
	State          VideoState
	OutputURI      string
	FailureMessage string
}

// VideoClient animates finished cards through the asynchronous invoke API
// (Nova-Reel-style contract). The provider writes the result to S3 itself;
// callers copy it into the session ledger once the poll reports completion.
type VideoClient struct {
	api       runtimeAPI
	modelID   string
	outputURI string
	seed      func() int
}

// NewVideoClient wraps api for the given model. outputURI is the
// s3://bucket/prefix the provider delivers raw output under.
func NewVideoClient(api runtimeAPI, modelID, outputURI string) *VideoClient {
	return &VideoClient{
		api:       api,
		modelID:   modelID,
		outputURI: outputURI,
		seed:      func() int { return rand.Intn(maxVideoSeed + 1) },
	}
}

// StartVideo submits a text+first-frame video job and returns the provider's
// invocation ARN. jpeg must already be validated as JPEG bytes; the model
// rejects other formats with a validation error.
func (c *VideoClient) StartVideo(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	req := videoRequest{
		TaskType: "TEXT_VIDEO",
		TextToVideoParams: textToVideoParams{
			Text: prompt,
			Images: []videoFirstFrame{{
				Format: "jpeg",
				Source: videoImageSource{Bytes: base64.StdEncoding.EncodeToString(jpeg)},
			}},
		},
		VideoConfig: videoGenConfig{
			DurationSeconds: 6,
			FPS:             24,
			Dimension:       "1280x720",
			Seed:            c.seed(),
		},
	}

	out, err := c.api.StartAsyncInvoke(ctx, &bedrockruntime.StartAsyncInvokeInput{
		ModelId:    aws.String(c.modelID),
		ModelInput: document.NewLazyDocument(req),
		OutputDataConfig: &types.AsyncInvokeOutputDataConfigMemberS3OutputDataConfig{
			Value: types.AsyncInvokeS3OutputDataConfig{
				S3Uri: aws.String(c.outputURI),
			},
		},
	})
	if err != nil {
		return "", err
	}
	arn := aws.ToString(out.InvocationArn)
	if arn == "" {
		return "", fmt.Errorf("provider accepted job but returned no invocation arn")
	}

	logger := log.WithComponent("bedrock")
	logger.Info().
		Str("model_id", c.modelID).
		Str("invocation_arn", arn).
		Msg("video job submitted")
	return arn, nil
}

// Status polls one invocation. The provider appends its own invocation
// directory to the configured output URI, so the returned OutputURI points at
// the directory holding output.mp4.
func (c *VideoClient) Status(ctx context.Context, invocationARN string) (*VideoStatus, error) {
	out, err := c.api.GetAsyncInvoke(ctx, &bedrockruntime.GetAsyncInvokeInput{
		InvocationArn: aws.String(invocationARN),
	})
	if err != nil {
		return nil, err
	}

	st := &VideoStatus{}
	switch out.Status {
	case types.AsyncInvokeStatusCompleted:
		st.State = VideoCompleted
	case types.AsyncInvokeStatusFailed:
		st.State = VideoFailed
		st.FailureMessage = aws.ToString(out.FailureMessage)
	default:
		st.State = VideoInProgress
	}
	if cfg, ok := out.OutputDataConfig.(*types.AsyncInvokeOutputDataConfigMemberS3OutputDataConfig); ok {
		st.OutputURI = aws.ToString(cfg.Value.S3Uri)
	}
	return st, nil
}

// ParseS3URI splits s3://bucket/prefix into bucket and key prefix.
func ParseS3URI(uri string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) || uri == scheme {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, scheme), "/")
	return bucket, key, nil
}
