// SPDX-License-Identifier: MIT

package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

type fakeRuntime struct {
	invokeIn  *bedrockruntime.InvokeModelInput
	invokeOut *bedrockruntime.InvokeModelOutput
	invokeErr error

	startIn  *bedrockruntime.StartAsyncInvokeInput
	startOut *bedrockruntime.StartAsyncInvokeOutput
	startErr error

	getIn  *bedrockruntime.GetAsyncInvokeInput
	getOut *bedrockruntime.GetAsyncInvokeOutput
	getErr error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invokeIn = in
	return f.invokeOut, f.invokeErr
}

func (f *fakeRuntime) StartAsyncInvoke(_ context.Context, in *bedrockruntime.StartAsyncInvokeInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.StartAsyncInvokeOutput, error) {
	f.startIn = in
	return f.startOut, f.startErr
}

func (f *fakeRuntime) GetAsyncInvoke(_ context.Context, in *bedrockruntime.GetAsyncInvokeInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.GetAsyncInvokeOutput, error) {
	f.getIn = in
	return f.getOut, f.getErr
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, KindThrottle},
		{"too many requests", &smithy.GenericAPIError{Code: "TooManyRequestsException"}, KindThrottle},
		{"quota exceeded", &smithy.GenericAPIError{Code: "ServiceQuotaExceededException"}, KindThrottle},
		{"bare throttling code", &smithy.GenericAPIError{Code: "Throttling"}, KindThrottle},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException"}, KindValidation},
		{"content blocked", fmt.Errorf("prompt: %w", ErrContentBlocked), KindValidation},
		{"model timeout", &smithy.GenericAPIError{Code: "ModelTimeoutException"}, KindTransient},
		{"service unavailable", &smithy.GenericAPIError{Code: "ServiceUnavailableException"}, KindTransient},
		{"internal server", &smithy.GenericAPIError{Code: "InternalServerException"}, KindTransient},
		{"unknown api code", &smithy.GenericAPIError{Code: "SomethingNew"}, KindTransient},
		{"wrapped throttling", fmt.Errorf("invoke: %w", &smithy.GenericAPIError{Code: "ThrottlingException"}), KindThrottle},
		{"transport error", errors.New("connection reset by peer"), KindTransient},
		{"context deadline", context.DeadlineExceeded, KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func imageBody(t *testing.T, images []string, errMsg string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"images": images, "error": errMsg})
	if err != nil {
		t.Fatalf("marshal fake body: %v", err)
	}
	return b
}

func TestImageClientGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	encoded := base64.StdEncoding.EncodeToString(png)

	t.Run("decodes first image", func(t *testing.T) {
		fake := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: imageBody(t, []string{encoded}, ""),
		}}
		c := NewImageClient(fake, "amazon.nova-canvas-v1:0")
		c.seed = func() int { return 7 }

		got, err := c.GenerateImage(context.Background(), "a fox in a spacesuit")
		if err != nil {
			t.Fatalf("GenerateImage: %v", err)
		}
		if string(got) != string(png) {
			t.Errorf("image bytes = %v, want %v", got, png)
		}
		if got, want := aws.ToString(fake.invokeIn.ModelId), "amazon.nova-canvas-v1:0"; got != want {
			t.Errorf("model id = %q, want %q", got, want)
		}

		var req imageRequest
		if err := json.Unmarshal(fake.invokeIn.Body, &req); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if req.TaskType != "TEXT_IMAGE" {
			t.Errorf("task type = %q, want TEXT_IMAGE", req.TaskType)
		}
		if req.TextToImageParams.Text != "a fox in a spacesuit" {
			t.Errorf("prompt = %q", req.TextToImageParams.Text)
		}
		if req.ImageConfig.Width != 768 || req.ImageConfig.Height != 1024 {
			t.Errorf("dimensions = %dx%d, want 768x1024", req.ImageConfig.Width, req.ImageConfig.Height)
		}
		if req.ImageConfig.Seed != 7 {
			t.Errorf("seed = %d, want 7", req.ImageConfig.Seed)
		}
	})

	t.Run("in-band error maps to content block", func(t *testing.T) {
		fake := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: imageBody(t, nil, "blocked by content filters"),
		}}
		c := NewImageClient(fake, "m")

		_, err := c.GenerateImage(context.Background(), "p")
		if !errors.Is(err, ErrContentBlocked) {
			t.Fatalf("err = %v, want ErrContentBlocked", err)
		}
		if Classify(err) != KindValidation {
			t.Errorf("Classify = %q, want validation", Classify(err))
		}
	})

	t.Run("empty image list is an error", func(t *testing.T) {
		fake := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{
			Body: imageBody(t, []string{}, ""),
		}}
		c := NewImageClient(fake, "m")
		if _, err := c.GenerateImage(context.Background(), "p"); err == nil {
			t.Fatal("expected error for empty image list")
		}
	})

	t.Run("provider error passes through for classification", func(t *testing.T) {
		fake := &fakeRuntime{invokeErr: &smithy.GenericAPIError{Code: "ThrottlingException"}}
		c := NewImageClient(fake, "m")
		_, err := c.GenerateImage(context.Background(), "p")
		if err == nil {
			t.Fatal("expected error")
		}
		if Classify(err) != KindThrottle {
			t.Errorf("Classify = %q, want throttle", Classify(err))
		}
	})
}

func TestVideoClientStartVideo(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}

	fake := &fakeRuntime{startOut: &bedrockruntime.StartAsyncInvokeOutput{
		InvocationArn: aws.String("arn:aws:bedrock:eu-central-1:123:async-invoke/abc123"),
	}}
	c := NewVideoClient(fake, "amazon.nova-reel-v1:1", "s3://cardforge-media/videos-raw")
	c.seed = func() int { return 11 }

	arn, err := c.StartVideo(context.Background(), jpeg, "make it snow")
	if err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	if want := "arn:aws:bedrock:eu-central-1:123:async-invoke/abc123"; arn != want {
		t.Errorf("arn = %q, want %q", arn, want)
	}
	if got, want := aws.ToString(fake.startIn.ModelId), "amazon.nova-reel-v1:1"; got != want {
		t.Errorf("model id = %q, want %q", got, want)
	}

	raw, err := fake.startIn.ModelInput.MarshalSmithyDocument()
	if err != nil {
		t.Fatalf("marshal model input: %v", err)
	}
	var req videoRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("unmarshal model input: %v", err)
	}
	if req.TaskType != "TEXT_VIDEO" {
		t.Errorf("task type = %q, want TEXT_VIDEO", req.TaskType)
	}
	if req.TextToVideoParams.Text != "make it snow" {
		t.Errorf("prompt = %q", req.TextToVideoParams.Text)
	}
	if len(req.TextToVideoParams.Images) != 1 {
		t.Fatalf("first-frame images = %d, want 1", len(req.TextToVideoParams.Images))
	}
	frame := req.TextToVideoParams.Images[0]
	if frame.Format != "jpeg" {
		t.Errorf("frame format = %q, want jpeg", frame.Format)
	}
	if got := frame.Source.Bytes; got != base64.StdEncoding.EncodeToString(jpeg) {
		t.Errorf("frame bytes not base64 of input jpeg")
	}
	if req.VideoConfig.Seed != 11 {
		t.Errorf("seed = %d, want 11", req.VideoConfig.Seed)
	}

	cfg, ok := fake.startIn.OutputDataConfig.(*types.AsyncInvokeOutputDataConfigMemberS3OutputDataConfig)
	if !ok {
		t.Fatalf("output data config = %T, want S3 member", fake.startIn.OutputDataConfig)
	}
	if got, want := aws.ToString(cfg.Value.S3Uri), "s3://cardforge-media/videos-raw"; got != want {
		t.Errorf("output uri = %q, want %q", got, want)
	}
}

func TestVideoClientStartVideoMissingARN(t *testing.T) {
	fake := &fakeRuntime{startOut: &bedrockruntime.StartAsyncInvokeOutput{}}
	c := NewVideoClient(fake, "m", "s3://b/p")
	if _, err := c.StartVideo(context.Background(), []byte{0xff, 0xd8}, "p"); err == nil {
		t.Fatal("expected error when provider returns no arn")
	}
}

func TestVideoClientStatus(t *testing.T) {
	arn := "arn:aws:bedrock:eu-central-1:123:async-invoke/abc123"

	t.Run("in progress", func(t *testing.T) {
		fake := &fakeRuntime{getOut: &bedrockruntime.GetAsyncInvokeOutput{
			Status: types.AsyncInvokeStatusInProgress,
		}}
		c := NewVideoClient(fake, "m", "s3://b/p")
		st, err := c.Status(context.Background(), arn)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State != VideoInProgress {
			t.Errorf("state = %q, want in_progress", st.State)
		}
		if got := aws.ToString(fake.getIn.InvocationArn); got != arn {
			t.Errorf("polled arn = %q, want %q", got, arn)
		}
	})

	t.Run("completed carries output uri", func(t *testing.T) {
		fake := &fakeRuntime{getOut: &bedrockruntime.GetAsyncInvokeOutput{
			Status: types.AsyncInvokeStatusCompleted,
			OutputDataConfig: &types.AsyncInvokeOutputDataConfigMemberS3OutputDataConfig{
				Value: types.AsyncInvokeS3OutputDataConfig{
					S3Uri: aws.String("s3://cardforge-media/videos-raw/abc123"),
				},
			},
		}}
		c := NewVideoClient(fake, "m", "s3://b/p")
		st, err := c.Status(context.Background(), arn)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State != VideoCompleted {
			t.Errorf("state = %q, want completed", st.State)
		}
		if want := "s3://cardforge-media/videos-raw/abc123"; st.OutputURI != want {
			t.Errorf("output uri = %q, want %q", st.OutputURI, want)
		}
	})

	t.Run("failed carries failure message", func(t *testing.T) {
		fake := &fakeRuntime{getOut: &bedrockruntime.GetAsyncInvokeOutput{
			Status:         types.AsyncInvokeStatusFailed,
			FailureMessage: aws.String("content filters rejected the first frame"),
		}}
		c := NewVideoClient(fake, "m", "s3://b/p")
		st, err := c.Status(context.Background(), arn)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State != VideoFailed {
			t.Errorf("state = %q, want failed", st.State)
		}
		if st.FailureMessage == "" {
			t.Error("failure message lost")
		}
	})
}

func TestParseS3URI(t *testing.T) {
	cases := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://bucket/videos-raw/abc/output.mp4", "bucket", "videos-raw/abc/output.mp4", false},
		{"s3://bucket/prefix", "bucket", "prefix", false},
		{"s3://bucket", "bucket", "", false},
		{"https://bucket.s3.amazonaws.com/k", "", "", true},
		{"", "", "", true},
		{"s3://", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tc.uri)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseS3URI(%q): expected error", tc.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseS3URI(%q): %v", tc.uri, err)
			}
			if bucket != tc.bucket || key != tc.key {
				t.Errorf("ParseS3URI(%q) = (%q, %q), want (%q, %q)", tc.uri, bucket, key, tc.bucket, tc.key)
			}
		})
	}
}
