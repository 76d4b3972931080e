// SPDX-License-Identifier: MIT

package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/eventkiosk/cardforge/internal/log"
)

// Nova Canvas caps the seed at 858,993,459.
const maxImageSeed = 858993459

type imageRequest struct {
	TaskType          string            `json:"taskType"`
	TextToImageParams textToImageParams `json:"textToImageParams"`
	ImageConfig       imageGenConfig    `json:"imageGenerationConfig"`
}

type textToImageParams struct {
	Text string `json:"text"`
}

type imageGenConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Quality        string  `json:"quality"`
	CfgScale       float64 `json:"cfgScale"`
	Seed           int     `json:"seed"`
}

type imageResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

// ImageClient generates card stills through the synchronous InvokeModel API.
type ImageClient struct {
	api     runtimeAPI
	modelID string
	seed    func() int
}

// NewImageClient wraps api for the given model (Nova-Canvas-style contract).
func NewImageClient(api runtimeAPI, modelID string) *ImageClient {
	return &ImageClient{
		api:     api,
		modelID: modelID,
		seed:    func() int { return rand.Intn(maxImageSeed + 1) },
	}
}

// GenerateImage renders the prompt and returns decoded PNG bytes.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(imageRequest{
		TaskType:          "TEXT_IMAGE",
		TextToImageParams: textToImageParams{Text: prompt},
		ImageConfig: imageGenConfig{
			NumberOfImages: 1,
			Width:          768,
			Height:         1024,
			Quality:        "standard",
			CfgScale:       8.0,
			Seed:           c.seed(),
		},
	})
	if err != nil {
		return nil, err
	}

	started := time.Now()
	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrContentBlocked, resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("model returned no images")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}

	logger := log.WithComponent("bedrock")
	logger.Debug().
		Str("model_id", c.modelID).
		Int("image_bytes", len(img)).
		Dur("elapsed", time.Since(started)).
		Msg("image generated")
	return img, nil
}
