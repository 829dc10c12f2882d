package main

import (
	"fmt"
	"io"

	"github.com/man-su-97/rag-chatbot/internal/config"
)

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	source := configPath
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "%s: valid (provider %s, model %s, memory %s)\n",
		source, cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel, cfg.Memory.Backend)
	return nil
}
