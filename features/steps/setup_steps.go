//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"audio-extract/cmd"
	"audio-extract/infrastructure/config"

	"github.com/cucumber/godog"
)

type setupContext struct {
	tempDir         string
	configPath      string
	setupCancelled  bool
	originalContent string
	output          *bytes.Buffer
	err             error
}

var SharedSetupContext = &setupContext{}

// MockPrompter implements cmd.Prompter for testing
type MockPrompter struct {
	inputResponses   []string
	confirmResponses []bool
	inputIndex       int
	confirmIndex     int
}

func NewMockPrompter(inputs []string, confirms []bool) *MockPrompter {
	return &MockPrompter{
		inputResponses:   inputs,
		confirmResponses: confirms,
	}
}

func (m *MockPrompter) Input(message string, defaultValue string) (string, error) {
	if m.inputIndex >= len(m.inputResponses) {
		return defaultValue, nil
	}
	response := m.inputResponses[m.inputIndex]
	m.inputIndex++
	return response, nil
}

func (m *MockPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	if m.confirmIndex >= len(m.confirmResponses) {
		return defaultValue, nil
	}
	response := m.confirmResponses[m.confirmIndex]
	m.confirmIndex++
	return response, nil
}

func InitializeSetupScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedSetupContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "setup-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.configPath = filepath.Join(tempDir, "config", "config.yaml")
		testCtx.setupCancelled = false
		testCtx.originalContent = ""
		testCtx.output = &bytes.Buffer{}
		testCtx.err = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^no config file exists for setup$`, testCtx.noConfigFileExistsForSetup)
	ctx.Step(`^a config file already exists for setup$`, testCtx.aConfigFileAlreadyExistsForSetup)
	ctx.Step(`^I run the setup command with inputs:$`, testCtx.iRunTheSetupCommandWithInputs)
	ctx.Step(`^I run the setup command with confirmation "([^"]*)"$`, testCtx.iRunTheSetupCommandWithConfirmation)
	ctx.Step(`^I attempt to run the setup command with inputs:$`, testCtx.iAttemptToRunTheSetupCommandWithInputs)
	ctx.Step(`^a config file should exist$`, testCtx.aConfigFileShouldExist)
	ctx.Step(`^the config should have output_directory "([^"]*)"$`, testCtx.theConfigShouldHaveOutputDirectory)
	ctx.Step(`^the config should have output_extension "([^"]*)"$`, testCtx.theConfigShouldHaveOutputExtension)
	ctx.Step(`^the config should have buffer_size (\d+)$`, testCtx.theConfigShouldHaveBufferSize)
	ctx.Step(`^the config should have lock_destination enabled$`, testCtx.theConfigShouldHaveLockDestinationEnabled)
	ctx.Step(`^the setup should fail mentioning "([^"]*)"$`, testCtx.theSetupShouldFailMentioning)
	ctx.Step(`^the setup should be cancelled$`, testCtx.theSetupShouldBeCancelled)
	ctx.Step(`^the existing config should be unchanged$`, testCtx.theExistingConfigShouldBeUnchanged)
}

func (s *setupContext) noConfigFileExistsForSetup() error {
	return os.MkdirAll(filepath.Dir(s.configPath), 0755)
}

func (s *setupContext) aConfigFileAlreadyExistsForSetup() error {
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0755); err != nil {
		return err
	}

	content := `paths:
  output_directory: "/original/audio"
extraction:
  buffer_size: 65536
  output_extension: "mp4"
logging:
  level: "warn"
`
	s.originalContent = content
	return os.WriteFile(s.configPath, []byte(content), 0644)
}

func (s *setupContext) runSetup(table *godog.Table) error {
	inputs, confirms := parseInputTable(table)
	return cmd.RunSetupWithPrompter(NewMockPrompter(inputs, confirms), s.configPath, s.output)
}

func (s *setupContext) iRunTheSetupCommandWithInputs(table *godog.Table) error {
	s.err = s.runSetup(table)
	if s.err != nil {
		return fmt.Errorf("setup command failed: %w", s.err)
	}
	return nil
}

func (s *setupContext) iAttemptToRunTheSetupCommandWithInputs(table *godog.Table) error {
	s.err = s.runSetup(table)
	return nil
}

func (s *setupContext) iRunTheSetupCommandWithConfirmation(confirmation string) error {
	confirm := strings.ToLower(confirmation) == "y"
	prompter := NewMockPrompter([]string{}, []bool{confirm})

	s.err = cmd.RunSetupWithPrompter(prompter, s.configPath, s.output)
	if !confirm {
		s.setupCancelled = true
	}
	return nil
}

// parseInputTable splits | prompt | value | rows into text inputs and yes/no
// answers. Prompts starting with "lock" or "overwrite" are yes/no questions.
func parseInputTable(table *godog.Table) ([]string, []bool) {
	var inputs []string
	var confirms []bool

	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		prompt := strings.ToLower(row.Cells[0].Value)
		value := row.Cells[1].Value

		if strings.HasPrefix(prompt, "lock") || strings.HasPrefix(prompt, "overwrite") {
			confirms = append(confirms, strings.ToLower(value) == "y")
		} else {
			inputs = append(inputs, value)
		}
	}

	return inputs, confirms
}

func (s *setupContext) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (s *setupContext) aConfigFileShouldExist() error {
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist at %s", s.configPath)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveOutputDirectory(expected string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Paths.OutputDirectory != expected {
		return fmt.Errorf("expected output_directory %q, got %q", expected, cfg.Paths.OutputDirectory)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveOutputExtension(expected string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Extraction.OutputExtension != expected {
		return fmt.Errorf("expected output_extension %q, got %q", expected, cfg.Extraction.OutputExtension)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveBufferSize(expected string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if strconv.Itoa(cfg.Extraction.BufferSize) != expected {
		return fmt.Errorf("expected buffer_size %s, got %d", expected, cfg.Extraction.BufferSize)
	}
	return nil
}

func (s *setupContext) theConfigShouldHaveLockDestinationEnabled() error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Extraction.LockDestination {
		return fmt.Errorf("expected lock_destination to be enabled")
	}
	return nil
}

func (s *setupContext) theSetupShouldFailMentioning(text string) error {
	if s.err == nil {
		return fmt.Errorf("expected setup to fail")
	}
	if !strings.Contains(s.err.Error(), text) {
		return fmt.Errorf("expected error mentioning %q, got %v", text, s.err)
	}
	return nil
}

func (s *setupContext) theSetupShouldBeCancelled() error {
	if !s.setupCancelled {
		return fmt.Errorf("expected setup to be cancelled")
	}
	if !strings.Contains(s.output.String(), "Setup cancelled.") {
		return fmt.Errorf("expected cancellation message, got %q", s.output.String())
	}
	return nil
}

func (s *setupContext) theExistingConfigShouldBeUnchanged() error {
	content, err := os.ReadFile(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if string(content) != s.originalContent {
		return fmt.Errorf("config content was changed")
	}
	return nil
}
