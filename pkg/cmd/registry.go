// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	logaction "github.com/kazihq/zapflow/pkg/actions/log"
	"github.com/kazihq/zapflow/pkg/actions/transform"
	"github.com/kazihq/zapflow/pkg/registry"
)

// NewRegistry builds an action registry with the native actions registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	for _, factory := range []registry.ActionFactory{
		logaction.NewActionFactory(),
		transform.NewActionFactory(),
	} {
		if err := reg.Register(factory); err != nil {
			panic(err)
		}
	}

	return reg
}
