package pantheonix

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/heroiclabs/nakama-common/runtime"
	"gopkg.in/yaml.v3"
)

var (
	ErrInternal           = runtime.NewError("internal error occurred", INTERNAL_ERROR_CODE)
	ErrBadInput           = runtime.NewError("bad input", INVALID_ARGUMENT_ERROR_CODE)
	ErrNoSessionUser      = runtime.NewError("no user ID in session", INVALID_ARGUMENT_ERROR_CODE)
	ErrPayloadDecode      = runtime.NewError("cannot decode json", INTERNAL_ERROR_CODE)
	ErrPayloadEncode      = runtime.NewError("cannot encode json", INTERNAL_ERROR_CODE)
	ErrSystemNotAvailable = runtime.NewError("system not available", INTERNAL_ERROR_CODE)
)

// The SystemType identifies each of the gameplay systems.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeDevotion
	SystemTypeReligions
	SystemTypeCivilizations
	SystemTypeBlessings
	SystemTypeEffects
)

// A System is a base type for a gameplay system.
type System interface {
	// GetType provides the runtime type of the gameplay system.
	GetType() SystemType

	// GetConfig returns the configuration type of the gameplay system.
	GetConfig() any
}

// A flusher is implemented by systems which buffer authoritative state in memory and
// persist it write-behind. Flush must write every cached aggregate synchronously; it is
// invoked at controlled shutdown.
type flusher interface {
	Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error
}

// The SystemConfig describes the configuration that each gameplay system must use to
// configure itself.
type SystemConfig interface {
	// GetType returns the runtime type of the gameplay system.
	GetType() SystemType

	// GetConfigFile returns the definition file used for the data definitions in the
	// gameplay system. Both JSON and YAML files are accepted.
	GetConfigFile() string

	// GetRegister returns true if the gameplay system's RPCs should be registered with
	// the game server.
	GetRegister() bool
}

var _ SystemConfig = &systemConfig{}

type systemConfig struct {
	systemType SystemType
	configFile string
	register   bool
}

func (sc *systemConfig) GetType() SystemType {
	return sc.systemType
}
func (sc *systemConfig) GetConfigFile() string {
	return sc.configFile
}
func (sc *systemConfig) GetRegister() bool {
	return sc.register
}

// Pantheonix provides a type which combines all gameplay systems.
type Pantheonix interface {
	// SetPersonalizer is deprecated in favor of AddPersonalizer function to compose a
	// chain of configuration personalization.
	SetPersonalizer(Personalizer)
	AddPersonalizer(personalizer Personalizer)

	AddPublisher(publisher Publisher)

	GetDevotionSystem() DevotionSystem
	GetReligionsSystem() ReligionsSystem
	GetCivilizationsSystem() CivilizationsSystem
	GetBlessingsSystem() BlessingsSystem
	GetEffectsSystem() EffectsSystem

	// SendPublisherEvents broadcasts events to all registered publishers.
	SendPublisherEvents(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, events []*PublisherEvent)

	// BroadcastAuthEvent notifies all publishers about user authentication.
	BroadcastAuthEvent(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, created bool)

	// Flush persists all dirty aggregates held in memory by the systems. It must be
	// called at controlled shutdown; the write-behind path is best-effort otherwise.
	Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error
}

// WithDevotionSystem configures a DevotionSystem type and optionally registers its RPCs
// with the game server.
func WithDevotionSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeDevotion,
		configFile: configFile,
		register:   register,
	}
}

// WithReligionsSystem configures a ReligionsSystem type and optionally registers its
// RPCs with the game server.
func WithReligionsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeReligions,
		configFile: configFile,
		register:   register,
	}
}

// WithCivilizationsSystem configures a CivilizationsSystem type and optionally registers
// its RPCs with the game server.
func WithCivilizationsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeCivilizations,
		configFile: configFile,
		register:   register,
	}
}

// WithBlessingsSystem configures a BlessingsSystem type and optionally registers its
// RPCs with the game server.
func WithBlessingsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeBlessings,
		configFile: configFile,
		register:   register,
	}
}

// WithEffectsSystem configures an EffectsSystem type and optionally registers its RPCs
// with the game server.
func WithEffectsSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeEffects,
		configFile: configFile,
		register:   register,
	}
}

// parseConfig unmarshals a system definition file, accepting YAML or JSON based on the
// file extension. Definition files are static after load.
func parseConfig(configFile string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}
