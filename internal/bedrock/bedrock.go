// SPDX-License-Identifier: MIT

// Package bedrock wraps the AWS Bedrock runtime behind two narrow clients:
// synchronous image generation and asynchronous video generation. Provider
// errors are classified into throttle/validation/transient so the dispatcher
// and the capacity controller can react without knowing SDK error shapes.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/eventkiosk/cardforge/internal/log"
)

// runtimeAPI is the slice of the Bedrock runtime client the package uses.
// Tests substitute a fake.
type runtimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	StartAsyncInvoke(ctx context.Context, params *bedrockruntime.StartAsyncInvokeInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.StartAsyncInvokeOutput, error)
	GetAsyncInvoke(ctx context.Context, params *bedrockruntime.GetAsyncInvokeInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.GetAsyncInvokeOutput, error)
}

// NewRuntime builds the underlying Bedrock runtime client.
func NewRuntime(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger := log.WithComponent("bedrock")
	logger.Info().Str("region", region).Msg("bedrock runtime client ready")
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// ErrContentBlocked marks a generation the model refused on content grounds.
// The provider reports this in-band with a 200, not as an API error.
var ErrContentBlocked = errors.New("generation blocked by content filters")

// Kind classifies a provider failure for the dispatch plane.
type Kind string

const (
	// KindThrottle: the model is saturated. Internal backpressure signal,
	// never surfaced to clients.
	KindThrottle Kind = "throttle"
	// KindValidation: the request itself is unacceptable; retrying the same
	// payload cannot succeed.
	KindValidation Kind = "validation"
	// KindTransient: worth another delivery cycle.
	KindTransient Kind = "transient"
)

// Classify maps a provider error to its dispatch semantics. Unknown API
// errors default to transient; the dispatcher's receive-count budget turns a
// persistent one terminal after a redelivery cycle.
func Classify(err error) Kind {
	if errors.Is(err, ErrContentBlocked) {
		return KindValidation
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException", "Throttling":
			return KindThrottle
		case "ValidationException":
			return KindValidation
		case "ModelTimeoutException", "ModelNotReadyException", "ModelErrorException",
			"ServiceUnavailableException", "InternalServerException":
			return KindTransient
		}
		return KindTransient
	}
	// Transport failures, deadline blows, connection resets.
	return KindTransient
}
