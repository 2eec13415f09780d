package tui

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
)

const noneOption = "(none)"

// Uploader stores a local file for a file field and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, field form.Field, path string) (form.FileRef, error)
}

// Filler walks a form through an engine binding. Fields are prompted in
// position order; fields revealed by later answers are picked up on the next
// pass and fields hidden by an answer are forgotten.
type Filler struct {
	driver   PromptDriver
	uploader Uploader
	stat     func(string) (os.FileInfo, error)
}

// NewFiller prompts through driver. A nil uploader keeps file answers as
// local references.
func NewFiller(driver PromptDriver, uploader Uploader) *Filler {
	return &Filler{driver: driver, uploader: uploader, stat: os.Stat}
}

// Fill prompts until every visible field holds a valid value and returns the
// final revalidation.
func (f *Filler) Fill(ctx context.Context, fields []form.Field, initial map[string]any) (engine.SubmitResult, error) {
	binding := engine.NewBinding(fields, initial)
	asked := make(map[string]bool, len(fields))

	for pass := 0; pass <= len(fields); pass++ {
		progressed := false
		for _, field := range binding.Fields() {
			if asked[field.ID] || !binding.Visible(field.ID) {
				continue
			}
			if err := f.ask(ctx, binding, field, asked); err != nil {
				return engine.SubmitResult{}, err
			}
			asked[field.ID] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	result := binding.Submit()
	if !result.OK {
		ids := make([]string, 0, len(result.Errors))
		for id := range result.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			_ = f.driver.Info(ctx, fmt.Sprintf("%s: %s", id, result.Errors[id].Message))
		}
		return result, ErrNotSubmittable
	}
	return result, nil
}

func (f *Filler) ask(ctx context.Context, binding *engine.Binding, field form.Field, asked map[string]bool) error {
	for {
		value, err := f.prompt(ctx, field, binding.Value(field.ID))
		if err != nil {
			return err
		}
		change, err := binding.SetValue(field.ID, value)
		if err != nil {
			return fmt.Errorf("set %s: %w", field.ID, err)
		}
		for _, id := range change.Hidden {
			delete(asked, id)
		}
		if change.Result.Valid {
			return nil
		}
		if err := f.driver.Info(ctx, "  "+change.Result.Message); err != nil {
			return err
		}
	}
}

func (f *Filler) prompt(ctx context.Context, field form.Field, current any) (any, error) {
	message := field.DisplayName()
	if field.Required {
		message += " *"
	}
	help := field.HelpText

	switch {
	case field.Type.IsBoolean():
		return f.driver.Confirm(ctx, ConfirmConfig{Message: message, Default: form.Bool(current), Help: help})

	case field.Type.IsMulti():
		values := field.Options.Values()
		picked, err := f.driver.MultiSelect(ctx, SelectConfig{
			Message:  message,
			Options:  field.Options.Labels(),
			Defaults: indicesOf(values, form.Strings(current)),
			Help:     help,
		})
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(picked))
		for _, idx := range picked {
			if idx >= 0 && idx < len(values) {
				out = append(out, values[idx])
			}
		}
		return out, nil

	case field.Type.IsChoice():
		values := field.Options.Values()
		labels := field.Options.Labels()
		if !field.Required {
			values = append([]string{""}, values...)
			labels = append([]string{noneOption}, labels...)
		}
		idx, err := f.driver.Select(ctx, SelectConfig{
			Message:      message,
			Options:      labels,
			DefaultIndex: indexOf(values, form.Text(current)),
			Help:         help,
		})
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(values) {
			return "", nil
		}
		return values[idx], nil

	case field.Type == form.TypeTextarea, field.Type == form.TypeRichText:
		return f.driver.TextArea(ctx, TextAreaConfig{Message: message, Default: form.Text(current), Help: help})

	case field.Type == form.TypePassword:
		return f.driver.Password(ctx, InputConfig{Message: message, Help: help})

	case field.Type == form.TypeFile:
		return f.promptFile(ctx, field, message, help)

	case field.Type.IsNumeric():
		text, err := f.driver.Input(ctx, InputConfig{Message: message, Default: form.Text(current), Help: help})
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if n, err := strconv.ParseFloat(text, 64); err == nil {
			return n, nil
		}
		return text, nil
	}

	return f.driver.Input(ctx, InputConfig{
		Message: message,
		Default: form.Text(current),
		Help:    firstNonBlank(help, field.Placeholder),
	})
}

// promptFile asks for a local path. The file is checked against the field's
// rules before it is uploaded, so a rejected file never leaves the machine.
func (f *Filler) promptFile(ctx context.Context, field form.Field, message, help string) (any, error) {
	path, err := f.driver.Input(ctx, InputConfig{
		Message: message,
		Help:    firstNonBlank(help, "Path to a local file, empty to skip"),
		Validator: func(raw string) error {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return nil
			}
			info, err := f.stat(raw)
			if err != nil {
				return fmt.Errorf("cannot read %s", raw)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", raw)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return []form.FileRef{}, nil
	}
	info, err := f.stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	local := form.FileRef{
		Key:         path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}
	refs := []form.FileRef{local}
	if result := engine.Validate(field, refs, true); !result.Valid || f.uploader == nil {
		return refs, nil
	}

	if err := f.driver.Info(ctx, "  uploading "+local.Name); err != nil {
		return nil, err
	}
	ref, err := f.uploader.Upload(ctx, field, path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", local.Name, err)
	}
	return []form.FileRef{ref}, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
