package messages

// MessageType discriminates frames on the generator connection.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
)

// Executor names the generation backend that serves a request.
type Executor string

const (
	ExecutorAutomatic1111 Executor = "automatic1111"
	ExecutorKandinsky     Executor = "kandinsky"
)

// Valid reports whether e is a known executor.
func (e Executor) Valid() bool {
	switch e {
	case ExecutorAutomatic1111, ExecutorKandinsky:
		return true
	}
	return false
}

// GenType is the kind of generation operation.
type GenType string

const (
	GenTypeText2Img GenType = "text2img"
	GenTypeImg2Img  GenType = "img2img"
	GenTypeMix2Img  GenType = "mix2img"
)

// Valid reports whether g is a known operation kind.
func (g GenType) Valid() bool {
	switch g {
	case GenTypeText2Img, GenTypeImg2Img, GenTypeMix2Img:
		return true
	}
	return false
}

// GenStatus is the lifecycle status carried by a response.
type GenStatus string

const (
	StatusQueued     GenStatus = "queued"
	StatusGenerating GenStatus = "generating"
	StatusError      GenStatus = "error"
	StatusDone       GenStatus = "done"
)

// Statuses lists every status in dispatch-table order.
var Statuses = []GenStatus{StatusQueued, StatusGenerating, StatusError, StatusDone}

// Valid reports whether s is a known status.
func (s GenStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusGenerating, StatusError, StatusDone:
		return true
	}
	return false
}

// Terminal reports whether s ends a request's lifecycle.
func (s GenStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Supports reports whether the executor can serve the given operation kind.
// Kandinsky cannot do img2img and only Kandinsky can do mix2img.
func (e Executor) Supports(kind GenType) bool {
	switch kind {
	case GenTypeText2Img:
		return e.Valid()
	case GenTypeImg2Img:
		return e == ExecutorAutomatic1111
	case GenTypeMix2Img:
		return e == ExecutorKandinsky
	}
	return false
}

// Settings are the per-request service flags.
type Settings struct {
	Premium    bool `json:"premium"`
	Moderate   bool `json:"moderate"`
	SyncWithS3 bool `json:"sync_with_s3"`
}

// Result is the artifact reference of a finished generation.
// Content is usually a URL; ContentType is passed through as sent by the service.
type Result struct {
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}
