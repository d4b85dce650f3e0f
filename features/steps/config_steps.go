//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"audio-extract/cmd"
	"audio-extract/infrastructure/config"

	"github.com/cucumber/godog"
)

type configContext struct {
	tempDir    string
	configPath string
	cfg        *config.Config
	output     *bytes.Buffer
	err        error
}

// SharedConfigContext is reset before each scenario via Before hook
var SharedConfigContext = &configContext{}

func InitializeConfigScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedConfigContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "config-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.configPath = filepath.Join(tempDir, "config.yaml")
		testCtx.cfg = nil
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

	ctx.Step(`^a configuration file containing:$`, testCtx.aConfigurationFileContaining)
	ctx.Step(`^no configuration file exists$`, testCtx.noConfigurationFileExists)
	ctx.Step(`^I load the configuration$`, testCtx.iLoadTheConfiguration)
	ctx.Step(`^I attempt to load the configuration$`, testCtx.iAttemptToLoadTheConfiguration)
	ctx.Step(`^I run config show$`, testCtx.iRunConfigShow)
	ctx.Step(`^I run config get "([^"]*)"$`, testCtx.iRunConfigGet)
	ctx.Step(`^I run config set "([^"]*)" to "([^"]*)"$`, testCtx.iRunConfigSet)
	ctx.Step(`^the config output should contain "([^"]*)"$`, testCtx.theConfigOutputShouldContain)
	ctx.Step(`^the saved setting "([^"]*)" should be "([^"]*)"$`, testCtx.theSavedSettingShouldBe)
	ctx.Step(`^the config command should fail with "([^"]*)"$`, testCtx.theConfigCommandShouldFailWith)
	ctx.Step(`^I should receive an error about missing configuration$`, testCtx.iShouldReceiveAnErrorAboutMissingConfiguration)
}

func (c *configContext) aConfigurationFileContaining(doc *godog.DocString) error {
	return os.WriteFile(c.configPath, []byte(doc.Content), 0644)
}

func (c *configContext) noConfigurationFileExists() error {
	if _, err := os.Stat(c.configPath); err == nil {
		return fmt.Errorf("unexpected config file at %s", c.configPath)
	}
	return nil
}

func (c *configContext) iLoadTheConfiguration() error {
	c.cfg, c.err = config.Load(c.configPath)
	if c.err != nil {
		return fmt.Errorf("failed to load configuration: %w", c.err)
	}
	return nil
}

func (c *configContext) iAttemptToLoadTheConfiguration() error {
	c.cfg, c.err = config.Load(c.configPath)
	return nil
}

// current mirrors the root command: the loaded file or the defaults
func (c *configContext) current() (*config.Config, bool) {
	if c.cfg != nil {
		return c.cfg, true
	}
	if cfg, err := config.Load(c.configPath); err == nil {
		return cfg, true
	}
	return config.Default(), false
}

func (c *configContext) iRunConfigShow() error {
	cfg, loaded := c.current()
	c.err = cmd.RunConfigShowWithDependencies(cfg, c.configPath, loaded, c.output)
	return nil
}

func (c *configContext) iRunConfigGet(key string) error {
	cfg, _ := c.current()
	c.err = cmd.RunConfigGetWithDependencies(cfg, c.configPath, key, c.output)
	return nil
}

func (c *configContext) iRunConfigSet(key, value string) error {
	cfg, _ := c.current()
	c.err = cmd.RunConfigSetWithDependencies(cfg, c.configPath, key, value, c.output)
	return nil
}

func (c *configContext) theConfigOutputShouldContain(text string) error {
	if c.err != nil {
		return fmt.Errorf("unexpected error: %v", c.err)
	}
	if !strings.Contains(c.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, c.output.String())
	}
	return nil
}

func (c *configContext) theSavedSettingShouldBe(key, expected string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	got, err := config.NewConfigManager(cfg, c.configPath).Get(key)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("expected %s = %q, got %q", key, expected, got)
	}
	return nil
}

func (c *configContext) theConfigCommandShouldFailWith(text string) error {
	if c.err == nil {
		return fmt.Errorf("expected an error containing %q", text)
	}
	if !strings.Contains(c.err.Error(), text) {
		return fmt.Errorf("expected error containing %q, got %v", text, c.err)
	}
	return nil
}

func (c *configContext) iShouldReceiveAnErrorAboutMissingConfiguration() error {
	if c.err == nil {
		return fmt.Errorf("expected an error but got none")
	}
	if !strings.Contains(c.err.Error(), "failed to read config file") {
		return fmt.Errorf("expected error about missing config, got: %v", c.err)
	}
	return nil
}
