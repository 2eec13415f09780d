package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"formdeck/api/internal/form"
)

type stubDriver struct {
	inputs       []string
	selectIdx    []int
	multiIdx     [][]int
	confirm      []bool
	textAreas    []string
	passwords    []string
	infoMessages []string
	inputPos     int
	selectPos    int
	multiPos     int
	confirmPos   int
	textPos      int
	passPos      int
	selectSeen   [][]string
}

func (s *stubDriver) Input(_ context.Context, cfg InputConfig) (string, error) {
	if s.inputPos >= len(s.inputs) {
		return "", errors.New("no input scripted")
	}
	val := s.inputs[s.inputPos]
	s.inputPos++
	if cfg.Validator != nil {
		if err := cfg.Validator(val); err != nil {
			return "", err
		}
	}
	return val, nil
}

func (s *stubDriver) Password(_ context.Context, _ InputConfig) (string, error) {
	if s.passPos >= len(s.passwords) {
		return "", errors.New("no password scripted")
	}
	val := s.passwords[s.passPos]
	s.passPos++
	return val, nil
}

func (s *stubDriver) Confirm(_ context.Context, _ ConfirmConfig) (bool, error) {
	if s.confirmPos >= len(s.confirm) {
		return false, errors.New("no confirm scripted")
	}
	val := s.confirm[s.confirmPos]
	s.confirmPos++
	return val, nil
}

func (s *stubDriver) Select(_ context.Context, cfg SelectConfig) (int, error) {
	if s.selectPos >= len(s.selectIdx) {
		return -1, errors.New("no select scripted")
	}
	s.selectSeen = append(s.selectSeen, cfg.Options)
	val := s.selectIdx[s.selectPos]
	s.selectPos++
	return val, nil
}

func (s *stubDriver) MultiSelect(_ context.Context, _ SelectConfig) ([]int, error) {
	if s.multiPos >= len(s.multiIdx) {
		return nil, errors.New("no multiselect scripted")
	}
	val := s.multiIdx[s.multiPos]
	s.multiPos++
	return val, nil
}

func (s *stubDriver) TextArea(_ context.Context, _ TextAreaConfig) (string, error) {
	if s.textPos >= len(s.textAreas) {
		return "", errors.New("no textarea scripted")
	}
	val := s.textAreas[s.textPos]
	s.textPos++
	return val, nil
}

func (s *stubDriver) Info(_ context.Context, msg string) error {
	s.infoMessages = append(s.infoMessages, msg)
	return nil
}

func ptrFloat(v float64) *float64 { return &v }

func TestFillRevealsDependentFieldAndRetriesInvalid(t *testing.T) {
	fields := []form.Field{
		{ID: "plan", Type: form.TypeRadio, Required: true, Options: form.OptionsFromStrings("basic", "pro"), Position: 0},
		{
			ID:         "seats",
			Type:       form.TypeNumber,
			Required:   true,
			Position:   1,
			Validation: form.Rules{Max: ptrFloat(10)},
			Logic:      &form.Logic{DependsOn: "plan", Condition: form.ConditionEquals, Value: "pro", Action: form.ActionShow},
		},
		{ID: "agree", Type: form.TypeSwitch, Required: true, Position: 2},
	}
	driver := &stubDriver{selectIdx: []int{1}, inputs: []string{"25", "5"}, confirm: []bool{true}}

	result, err := NewFiller(driver, nil).Fill(context.Background(), fields, nil)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	want := map[string]any{"plan": "pro", "seats": 5.0, "agree": true}
	if diff := cmp.Diff(want, result.Values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if len(driver.infoMessages) != 1 || !strings.Contains(driver.infoMessages[0], "at most 10") {
		t.Fatalf("expected one max message, got %v", driver.infoMessages)
	}
}

func TestFillPicksUpFieldRevealedByLaterAnswer(t *testing.T) {
	fields := []form.Field{
		{
			ID:       "detail",
			Type:     form.TypeText,
			Required: true,
			Position: 0,
			Logic:    &form.Logic{DependsOn: "kind", Condition: form.ConditionEquals, Value: "other"},
		},
		{ID: "kind", Type: form.TypeRadio, Required: true, Options: form.OptionsFromStrings("a", "other"), Position: 1},
	}
	driver := &stubDriver{selectIdx: []int{1}, inputs: []string{"because"}}

	result, err := NewFiller(driver, nil).Fill(context.Background(), fields, nil)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if result.Values["detail"] != "because" || result.Values["kind"] != "other" {
		t.Fatalf("unexpected values %v", result.Values)
	}
}

func TestFillOptionalChoiceOffersNone(t *testing.T) {
	fields := []form.Field{
		{ID: "color", Type: form.TypeSelect, Options: form.OptionsFromStrings("red", "blue"), Position: 0},
		{ID: "tags", Type: form.TypeCheckbox, Options: form.OptionsFromStrings("x", "y", "z"), Position: 1},
	}
	driver := &stubDriver{selectIdx: []int{0}, multiIdx: [][]int{{0, 2}}}

	result, err := NewFiller(driver, nil).Fill(context.Background(), fields, nil)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if diff := cmp.Diff([]string{noneOption, "red", "blue"}, driver.selectSeen[0]); diff != "" {
		t.Fatalf("select options mismatch (-want +got):\n%s", diff)
	}
	want := map[string]any{"color": "", "tags": []string{"x", "z"}}
	if diff := cmp.Diff(want, result.Values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

type recordingUploader struct {
	paths []string
}

func (u *recordingUploader) Upload(_ context.Context, field form.Field, path string) (form.FileRef, error) {
	u.paths = append(u.paths, path)
	return form.FileRef{Key: "forms/f/" + field.ID + "/" + filepath.Base(path), Name: filepath.Base(path), Size: 3}, nil
}

func TestFillUploadsOnlyAcceptedFiles(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	cv := filepath.Join(dir, "cv.pdf")
	for _, path := range []string{notes, cv} {
		if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	fields := []form.Field{{
		ID:         "resume",
		Type:       form.TypeFile,
		Required:   true,
		Validation: form.Rules{AllowedExtensions: []string{"pdf"}},
	}}
	uploader := &recordingUploader{}
	driver := &stubDriver{inputs: []string{notes, cv}}

	result, err := NewFiller(driver, uploader).Fill(context.Background(), fields, nil)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if diff := cmp.Diff([]string{cv}, uploader.paths); diff != "" {
		t.Fatalf("uploaded paths mismatch (-want +got):\n%s", diff)
	}
	want := []form.FileRef{{Key: "forms/f/resume/cv.pdf", Name: "cv.pdf", Size: 3}}
	if diff := cmp.Diff(want, result.Values["resume"]); diff != "" {
		t.Fatalf("file value mismatch (-want +got):\n%s", diff)
	}
	if len(driver.infoMessages) == 0 || !strings.Contains(driver.infoMessages[0], "not allowed") {
		t.Fatalf("expected file type rejection, got %v", driver.infoMessages)
	}
}

type abortingDriver struct{ stubDriver }

func (a *abortingDriver) Input(context.Context, InputConfig) (string, error) {
	return "", ErrAborted
}

func TestFillPropagatesAbort(t *testing.T) {
	fields := []form.Field{{ID: "name", Type: form.TypeText, Required: true}}
	_, err := NewFiller(&abortingDriver{}, nil).Fill(context.Background(), fields, nil)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Fill() error = %v, want ErrAborted", err)
	}
}

func TestFillUsesInitialValuesAsDefaults(t *testing.T) {
	fields := []form.Field{
		{ID: "bio", Type: form.TypeTextarea, Position: 0},
		{ID: "secret", Type: form.TypePassword, Position: 1},
	}
	driver := &stubDriver{textAreas: []string{"hello"}, passwords: []string{"hunter22"}}

	result, err := NewFiller(driver, nil).Fill(context.Background(), fields, map[string]any{"unknown": 1})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	want := map[string]any{"bio": "hello", "secret": "hunter22"}
	if diff := cmp.Diff(want, result.Values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}
