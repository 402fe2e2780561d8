package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"devoid_client/client"
	"devoid_client/messages"
	"devoid_client/queue"
)

// batchFile is the YAML document passed with -requests.
//
//	requests:
//	  - kind: text2img
//	    executor: automatic1111
//	    user_id: "42"
//	    max_user_queue_size: 2
//	    repeat: 3
//	    payload:
//	      prompt: a lighthouse at dusk
type batchFile struct {
	Requests []batchRequest `yaml:"requests"`
}

type batchRequest struct {
	Kind             string         `yaml:"kind"`
	Executor         string         `yaml:"executor"`
	UserID           string         `yaml:"user_id"`
	ChatID           int64          `yaml:"chat_id"`
	MessageID        int64          `yaml:"message_id"`
	Premium          bool           `yaml:"premium"`
	Moderate         bool           `yaml:"moderate"`
	SyncWithS3       bool           `yaml:"sync_with_s3"`
	MaxUserQueueSize int            `yaml:"max_user_queue_size"`
	Repeat           int            `yaml:"repeat"`
	Extra            map[string]any `yaml:"extra"`
	Payload          map[string]any `yaml:"payload"`
}

func (r batchRequest) params(defaultQueueSize int) client.GenerationParams {
	size := r.MaxUserQueueSize
	if size == 0 {
		size = defaultQueueSize
	}
	return client.GenerationParams{
		Executor:         messages.Executor(r.Executor),
		Premium:          r.Premium,
		Moderate:         r.Moderate,
		SyncWithS3:       r.SyncWithS3,
		UserID:           r.UserID,
		ChatID:           r.ChatID,
		MessageID:        r.MessageID,
		Extra:            r.Extra,
		Payload:          r.Payload,
		MaxUserQueueSize: size,
	}
}

// loadBatch parses and validates a request batch. Every entry is checked
// with client.BuildRequest so a bad file fails before anything is sent.
func loadBatch(path string, defaultQueueSize int) ([]batchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requests file: %w", err)
	}
	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse requests file: %w", err)
	}
	for i, r := range file.Requests {
		if r.Repeat < 0 {
			return nil, fmt.Errorf("request %d: repeat must not be negative", i)
		}
		if _, err := client.BuildRequest(messages.GenType(r.Kind), r.params(defaultQueueSize)); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}
	return file.Requests, nil
}

// submitter is the slice of GeneratorClient used by submitBatch.
type submitter interface {
	Text2Img(ctx context.Context, p client.GenerationParams) error
	Img2Img(ctx context.Context, p client.GenerationParams) error
	Mix2Img(ctx context.Context, p client.GenerationParams) error
}

type batchOutcome struct {
	Accepted int
	Full     int
	Failed   int
	LastErr  error
}

func submitBatch(ctx context.Context, c submitter, reqs []batchRequest, defaultQueueSize int) batchOutcome {
	var out batchOutcome
	for _, r := range reqs {
		n := max(r.Repeat, 1)
		for range n {
			if ctx.Err() != nil {
				return out
			}
			err := submitOne(ctx, c, r, defaultQueueSize)
			switch {
			case err == nil:
				out.Accepted++
			case errors.Is(err, queue.ErrQueueFull):
				out.Full++
			default:
				out.Failed++
				out.LastErr = err
			}
		}
	}
	return out
}

func submitOne(ctx context.Context, c submitter, r batchRequest, defaultQueueSize int) error {
	p := r.params(defaultQueueSize)
	switch messages.GenType(r.Kind) {
	case messages.GenTypeText2Img:
		return c.Text2Img(ctx, p)
	case messages.GenTypeImg2Img:
		return c.Img2Img(ctx, p)
	case messages.GenTypeMix2Img:
		return c.Mix2Img(ctx, p)
	default:
		return fmt.Errorf("%w: unknown operation %q", messages.ErrUnsupportedOperation, r.Kind)
	}
}
