package messages

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
)

// Payload is the executor-specific generation parameter set.
// The concrete type is *Automatic1111Payload or *KandinskyPayload.
type Payload interface {
	Executor() Executor
	clone() Payload
}

// Seed bounds used when an Automatic1111 request does not pin a seed.
const (
	minRandomSeed int64 = 42
	maxRandomSeed int64 = 4294967295
)

// Automatic1111Payload holds parameters for the automatic1111 executor.
type Automatic1111Payload struct {
	Prompt            string   `json:"prompt"`
	InitImages        []string `json:"init_images,omitempty"`
	Steps             int      `json:"steps"`
	CfgScale          float64  `json:"cfg_scale"`
	SamplerIndex      string   `json:"sampler_index"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	Seed              int64    `json:"seed"`
	HRScale           float64  `json:"hr_scale"`
	HRUpscaler        string   `json:"hr_upscaler"`
	HRSecondPassSteps int      `json:"hr_second_pass_steps"`
	HRResizeX         int      `json:"hr_resize_x"`
	HRResizeY         int      `json:"hr_resize_y"`
	DenoisingStrength float64  `json:"denoising_strength"`
	NegativePrompt    string   `json:"negative_prompt"`
}

func (*Automatic1111Payload) Executor() Executor { return ExecutorAutomatic1111 }

func (p *Automatic1111Payload) clone() Payload {
	c := *p
	c.InitImages = slices.Clone(p.InitImages)
	return &c
}

// DefaultAutomatic1111Payload returns the parameter set used for fields a request leaves out.
// The seed is drawn at random for every call.
func DefaultAutomatic1111Payload() *Automatic1111Payload {
	return &Automatic1111Payload{
		Steps:             30,
		CfgScale:          7,
		SamplerIndex:      "Euler a",
		Width:             512,
		Height:            768,
		Seed:              minRandomSeed + rand.Int64N(maxRandomSeed-minRandomSeed+1),
		HRScale:           1,
		HRUpscaler:        "Latent",
		HRSecondPassSteps: 0,
		HRResizeX:         768,
		HRResizeY:         1024,
		DenoisingStrength: 0.7,
		NegativePrompt:    "child, childish",
	}
}

// KandinskyPayload holds parameters for the kandinsky executor.
// ImagesTexts and Weights are used by mix2img, Prompt by text2img.
type KandinskyPayload struct {
	ImagesTexts           []string  `json:"images_texts"`
	Weights               []float64 `json:"weights"`
	Prompt                string    `json:"prompt"`
	Steps                 int       `json:"steps"`
	GuidanceScale         float64   `json:"guidance_scale"`
	Height                int       `json:"height"`
	Width                 int       `json:"width"`
	Sampler               string    `json:"sampler"`
	PriorCfScale          float64   `json:"prior_cf_scale"`
	PriorSteps            string    `json:"prior_steps"`
	NegativePriorPrompt   string    `json:"negative_prior_prompt"`
	NegativeDecoderPrompt string    `json:"negative_decoder_prompt"`
}

func (*KandinskyPayload) Executor() Executor { return ExecutorKandinsky }

func (p *KandinskyPayload) clone() Payload {
	c := *p
	c.ImagesTexts = slices.Clone(p.ImagesTexts)
	c.Weights = slices.Clone(p.Weights)
	return &c
}

// DefaultKandinskyPayload returns the parameter set used for fields a request leaves out.
func DefaultKandinskyPayload() *KandinskyPayload {
	return &KandinskyPayload{
		ImagesTexts:   []string{},
		Weights:       []float64{},
		Steps:         30,
		GuidanceScale: 4,
		Height:        512,
		Width:         512,
		Sampler:       "p_sampler",
		PriorCfScale:  4,
		PriorSteps:    "5",
	}
}

// DecodePayload decodes raw parameters into the variant for executor.
// With fillDefaults the variant starts from its defaults and raw overrides them;
// without it, absent fields stay at their zero values. Empty or null raw input
// yields the starting value.
func DecodePayload(executor Executor, raw json.RawMessage, fillDefaults bool) (Payload, error) {
	var p Payload
	switch executor {
	case ExecutorAutomatic1111:
		if fillDefaults {
			p = DefaultAutomatic1111Payload()
		} else {
			p = &Automatic1111Payload{}
		}
	case ExecutorKandinsky:
		if fillDefaults {
			p = DefaultKandinskyPayload()
		} else {
			p = &KandinskyPayload{}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, executor)
	}

	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", executor, err)
	}
	return p, nil
}
