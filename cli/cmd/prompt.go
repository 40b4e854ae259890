package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	pdfsecure "github.com/essamgouda97/pdf-secure"
	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// errAborted is returned when the user hits Ctrl-C or closes stdin at a prompt.
var errAborted = errors.New("aborted")

// lineReader is the part of *liner.State the prompts use.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

func newLiner() *liner.State {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return line
}

func readLine(in lineReader, prompt string) (string, error) {
	text, err := in.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return "", errAborted
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// linerPrompter asks how many times a document may be opened, repeating
// the question until it gets a non-negative integer.
type linerPrompter struct {
	in  lineReader
	out io.Writer
}

func (p *linerPrompter) MaxOpenCount(docKey string) (int, error) {
	question := fmt.Sprintf("How many times may %s be opened? ", pdfsecure.DisplayName(docKey))
	for {
		answer, err := readLine(p.in, question)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 0 {
			fmt.Fprintln(p.out, "Please enter a whole number of 0 or more.")
			continue
		}
		return n, nil
	}
}

// lineSelector lists documents and reads a choice by number or name.
type lineSelector struct {
	in  lineReader
	out io.Writer
}

func (s *lineSelector) Select(ctx context.Context, entries []pdfsecure.DocumentEntry) (string, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", true, nil
		}

		fmt.Fprintln(s.out)
		if err := renderDocumentList(s.out, entries); err != nil {
			return "", false, err
		}

		answer, err := readLine(s.in, "Open which document? (number, name, or q to quit) ")
		if errors.Is(err, errAborted) {
			return "", true, nil
		}
		if err != nil {
			return "", false, err
		}

		if key, exit, ok := pickEntry(entries, answer); ok {
			return key, exit, nil
		}
		fmt.Fprintf(s.out, "No document matches %q.\n", answer)
	}
}

// pickEntry resolves an answer at the selection prompt. A name that matches
// no entry is passed through so the session can report it.
func pickEntry(entries []pdfsecure.DocumentEntry, answer string) (key string, exit bool, ok bool) {
	switch strings.ToLower(answer) {
	case "":
		return "", false, false
	case "q", "quit", "exit":
		return "", true, true
	}

	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(entries) {
			return "", false, false
		}
		return entries[n-1].Key, false, true
	}

	for _, e := range entries {
		if e.Name == answer || e.Key == answer {
			return e.Key, false, true
		}
	}
	return answer, false, true
}

// terminalDisplay reports pages on the terminal. With previewPath set each
// shown page is also written there as an unencrypted PNG, removed on Close.
// A process that dies before Close leaves the last page behind.
type terminalDisplay struct {
	in          lineReader
	out         io.Writer
	previewPath string
}

func (d *terminalDisplay) Show(img *pdfsecure.RasterImage, title string) error {
	bounds := img.Bounds()
	fmt.Fprintf(d.out, "%s (%dx%d)\n", title, bounds.Dx(), bounds.Dy())
	if d.previewPath == "" {
		return nil
	}

	f, err := os.OpenFile(d.previewPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, misc.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to open preview file: %w", err)
	}
	if err = img.EncodePNG(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return f.Close()
}

func (d *terminalDisplay) Next(ctx context.Context) (pdfsecure.Intent, error) {
	for {
		if ctx.Err() != nil {
			return pdfsecure.IntentExit, nil
		}
		answer, err := readLine(d.in, "[n]ext, [p]revious, [q]uit: ")
		if errors.Is(err, errAborted) {
			return pdfsecure.IntentExit, nil
		}
		if err != nil {
			return pdfsecure.IntentExit, err
		}
		if intent, ok := parseIntent(answer); ok {
			return intent, nil
		}
	}
}

func (d *terminalDisplay) Notify(msg string) {
	fmt.Fprintln(d.out, msg)
}

func (d *terminalDisplay) Close() error {
	if d.previewPath == "" {
		return nil
	}
	if err := os.Remove(d.previewPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func parseIntent(answer string) (pdfsecure.Intent, bool) {
	switch strings.ToLower(answer) {
	case "", "n", "next":
		return pdfsecure.IntentNext, true
	case "p", "prev", "previous":
		return pdfsecure.IntentPrevious, true
	case "q", "quit", "exit":
		return pdfsecure.IntentExit, true
	}
	return pdfsecure.IntentExit, false
}
