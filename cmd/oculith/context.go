package main

import (
	"fmt"
	"strings"

	"oculith/internal/client"
	"oculith/internal/config"
)

// commandContext resolves configuration and the daemon endpoint once
// per invocation and shares them across subcommands.
type commandContext struct {
	configFlag *string
	serverFlag *string

	cfg        *config.Config
	configPath string
}

func newCommandContext(configFlag, serverFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, serverFlag: serverFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, path, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = path
	return cfg, nil
}

// daemonClient builds a client for the configured daemon. The --server
// flag wins over the config's bind address.
func (c *commandContext) daemonClient() (*client.Client, error) {
	if *c.serverFlag != "" {
		return client.New(normalizeServerURL(*c.serverFlag)), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(normalizeServerURL(cfg.Paths.APIBind)), nil
}

func normalizeServerURL(value string) string {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value
	}
	return fmt.Sprintf("http://%s", value)
}
