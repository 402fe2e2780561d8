package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devoid_client/gateway"
	"devoid_client/messages"
)

func disableColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func decodeResponse(t *testing.T, frame string) *messages.Response {
	t.Helper()
	resp, err := messages.ParseResponse([]byte(frame))
	require.NoError(t, err)
	return resp
}

func TestReporter_Queued(t *testing.T) {
	disableColor(t)
	var out strings.Builder
	r := newReporter(&out)

	resp := decodeResponse(t, `{"message_type":"response","object_id":"obj-1","executor":"automatic1111",
		"gen_type":"text2img","gen_status":"queued","avg_time":12.5,"service_info":{"user_id":"42"}}`)
	require.NoError(t, r.Queued(context.Background(), resp))

	got := out.String()
	assert.Contains(t, got, "| REQUEST QUEUED\n")
	assert.Contains(t, got, "| GenerationID: obj-1\n")
	assert.Contains(t, got, "| GenerationType: queued|text2img\n")
	assert.Contains(t, got, "| GenerationUser: 42\n")
	assert.Contains(t, got, "| GenerationAvgTime: 12.50s\n")
}

func TestReporter_DoneAndError(t *testing.T) {
	disableColor(t)
	var out strings.Builder
	r := newReporter(&out)

	done := decodeResponse(t, `{"message_type":"response","object_id":"obj-2","executor":"kandinsky",
		"gen_type":"mix2img","gen_status":"done","result":{"content":"https://cdn.test/2.png","file_name":"2.png"},
		"service_info":{"user_id":"7"}}`)
	require.NoError(t, r.Done(context.Background(), done))
	assert.Contains(t, out.String(), "| REQUEST DONE\n")
	assert.Contains(t, out.String(), "| GenerationResult: https://cdn.test/2.png\n")
	assert.Contains(t, out.String(), "| FileName: 2.png\n")

	out.Reset()
	failed := decodeResponse(t, `{"message_type":"response","object_id":"obj-3","executor":"kandinsky",
		"gen_type":"text2img","gen_status":"error","result":{"content":"out of memory"},
		"service_info":{"user_id":"7"}}`)
	require.NoError(t, r.Error(context.Background(), failed))
	assert.Contains(t, out.String(), "| REQUEST FAILED\n")
	assert.Contains(t, out.String(), "| GenerationError: out of memory\n")
}

func TestReporter_ConnectionLost(t *testing.T) {
	disableColor(t)
	var out strings.Builder
	r := newReporter(&out)

	cause := &gateway.TransportReadError{SessionID: "s-1", Err: errors.New("unexpected EOF")}
	require.NoError(t, r.ConnectionLost(context.Background(), cause))
	assert.Contains(t, out.String(), "| CONNECTION LOST\n")
	assert.Contains(t, out.String(), "[*gateway.TransportReadError]")
}
