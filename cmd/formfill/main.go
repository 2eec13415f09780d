package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"formdeck/api/internal/form"
	"formdeck/api/internal/tui"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8787", "formdeck API base URL")
	slug := flag.String("slug", "", "public slug of the form to fill")
	definition := flag.String("definition", "", "fill a local YAML definition instead and print the answers")
	output := flag.String("output", "", "answers file for -definition (stdout if empty)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := tui.NewSurveyDriver()

	if *definition != "" {
		if err := fillOffline(ctx, driver, *definition, *output); err != nil {
			exit(err)
		}
		return
	}
	if *slug == "" {
		log.Fatalf("either -slug or -definition is required")
	}

	client := tui.NewClient(*apiURL, nil)
	published, err := client.Fetch(ctx, *slug)
	if err != nil {
		exit(err)
	}
	fmt.Println(published.Form.Title)
	if published.Form.Description != "" {
		fmt.Println(published.Form.Description)
	}
	fmt.Println()

	result, err := tui.NewFiller(driver, client.Uploader(*slug)).Fill(ctx, published.Fields, nil)
	if err != nil {
		exit(err)
	}
	receipt, err := client.Submit(ctx, *slug, result.Values)
	if err != nil {
		exit(err)
	}
	fmt.Println()
	fmt.Println(receipt.Message)
}

func fillOffline(ctx context.Context, driver tui.PromptDriver, path, output string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read definition: %w", err)
	}
	def, err := form.ParseDefinition(data)
	if err != nil {
		return err
	}
	fmt.Println(def.Title)
	fmt.Println()

	result, err := tui.NewFiller(driver, nil).Fill(ctx, def.Fields, nil)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(result.Values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if output == "" {
		fmt.Println(string(encoded))
		return nil
	}
	if err := os.WriteFile(output, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write answers: %w", err)
	}
	fmt.Printf("Answers written to %s\n", output)
	return nil
}

func exit(err error) {
	if errors.Is(err, tui.ErrAborted) {
		os.Exit(130)
	}
	var apiErr *tui.APIError
	if errors.As(err, &apiErr) && len(apiErr.Details) > 0 {
		ids := make([]string, 0, len(apiErr.Details))
		for id := range apiErr.Details {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			log.Printf("%s: %s", id, apiErr.Details[id].Message)
		}
	}
	log.Fatalf("formfill: %v", err)
}
