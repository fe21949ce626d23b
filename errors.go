package assetos

import (
	"errors"
)

// Runtime errors
var (
	// Dependency resolution errors
	ErrCircularDependency       = errors.New("circular dependency detected")
	ErrModuleDependencyMissing  = errors.New("module depends on non-existent module")
	ErrModuleDependencyDisabled = errors.New("module depends on disabled module")

	// Module lifecycle errors
	ErrModuleLoadFailed   = errors.New("failed to load module")
	ErrModuleStartFailed  = errors.New("failed to start module")
	ErrModuleNotLoaded    = errors.New("module not loaded")
	ErrModulesNotResolved = errors.New("module load order not resolved")

	// Registry errors
	ErrConstructorNil = errors.New("module constructor is nil")

	// Configuration errors
	ErrConfigUnsupportedFormat = errors.New("unsupported config file format")
	ErrConfigSectionNotFound   = errors.New("module config section not found")
)
