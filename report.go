package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"devoid_client/messages"
)

// reporter prints one block per handler event to the console.
type reporter struct {
	mu  sync.Mutex
	out io.Writer

	queued     *color.Color
	generating *color.Color
	done       *color.Color
	failed     *color.Color
	lost       *color.Color
}

func newReporter(out io.Writer) *reporter {
	return &reporter{
		out:        out,
		queued:     color.New(color.FgCyan),
		generating: color.New(color.FgYellow),
		done:       color.New(color.FgGreen, color.Bold),
		failed:     color.New(color.FgRed, color.Bold),
		lost:       color.New(color.FgMagenta),
	}
}

func (r *reporter) print(c *color.Color, title string, lines ...string) {
	var b strings.Builder
	b.WriteString("\n")
	c.Fprintf(&b, "| %s\n", title)
	for _, l := range lines {
		b.WriteString("| ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.out, b.String())
}

func describe(resp *messages.Response) []string {
	return []string{
		"GenerationID: " + resp.ObjectID,
		"Executor: " + string(resp.Executor),
		fmt.Sprintf("GenerationType: %s|%s", resp.Status, resp.GenType),
		"GenerationUser: " + resp.UserID(),
	}
}

func (r *reporter) Queued(_ context.Context, resp *messages.Response) error {
	lines := describe(resp)
	if resp.AvgTime != nil {
		lines = append(lines, fmt.Sprintf("GenerationAvgTime: %.2fs", *resp.AvgTime))
	}
	r.print(r.queued, "REQUEST QUEUED", lines...)
	return nil
}

func (r *reporter) Generating(_ context.Context, resp *messages.Response) error {
	r.print(r.generating, "REQUEST GENERATING", describe(resp)...)
	return nil
}

func (r *reporter) Done(_ context.Context, resp *messages.Response) error {
	lines := describe(resp)
	if resp.Result != nil {
		lines = append(lines, "GenerationResult: "+resp.Result.Content)
		if resp.Result.FileName != "" {
			lines = append(lines, "FileName: "+resp.Result.FileName)
		}
	}
	r.print(r.done, "REQUEST DONE", lines...)
	return nil
}

func (r *reporter) Error(_ context.Context, resp *messages.Response) error {
	lines := describe(resp)
	if resp.Result != nil {
		lines = append(lines, "GenerationError: "+resp.Result.Content)
	}
	r.print(r.failed, "REQUEST FAILED", lines...)
	return nil
}

func (r *reporter) ConnectionLost(_ context.Context, err error) error {
	r.print(r.lost, "CONNECTION LOST", fmt.Sprintf("[%T] %v", err, err))
	return nil
}
