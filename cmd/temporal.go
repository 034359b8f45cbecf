package main

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
)

// dialTemporal connects to the configured Temporal frontend.
func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal %s", cfg.Temporal.HostPort)
	}
	return c, nil
}
