// Package manifest parses bot.yaml, the declarative description of what a
// bot does once it is connected to its platform.
package manifest

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/edgard/botdeck/internal/errors"
)

// FileName is the file every bot's file mapping must contain.
const FileName = "bot.yaml"

// ReservedEnvPrefix marks environment names set by the launcher itself.
const ReservedEnvPrefix = "BOT_"

// Mode selects how a bot runs.
type Mode string

const (
	// ModeBuiltin answers messages in-process from the command table.
	ModeBuiltin Mode = "builtin"
	// ModeProcess runs the bot's files as an isolated child process.
	ModeProcess Mode = "process"
)

// Match selects how a command trigger is compared with an incoming message.
type Match string

const (
	MatchExact    Match = "exact"
	MatchPrefix   Match = "prefix"
	MatchContains Match = "contains"
)

// Manifest is the parsed content of bot.yaml.
type Manifest struct {
	Mode     Mode      `yaml:"mode" validate:"required,oneof=builtin process"`
	Commands []Command `yaml:"commands" validate:"dive"`
	Process  *Process  `yaml:"process"`
	WhatsApp *WhatsApp `yaml:"whatsapp"`
}

// Command is one trigger/reply rule.
type Command struct {
	Trigger string `yaml:"trigger" validate:"required"`
	Reply   string `yaml:"reply" validate:"required"`
	Match   Match  `yaml:"match" validate:"omitempty,oneof=exact prefix contains"`
}

// Process describes the child process of a process-mode bot.
type Process struct {
	Command string            `yaml:"command" validate:"required"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// WhatsApp holds settings only WhatsApp bots need.
type WhatsApp struct {
	PhoneID string `yaml:"phone_id" validate:"required"`
}

var validate = validator.New()

// Parse reads and validates the manifest from a bot's file mapping.
func Parse(files map[string]string) (*Manifest, error) {
	raw, ok := files[FileName]
	if !ok {
		return nil, apperrors.NewValidationError("bot files must include "+FileName, nil)
	}

	var m Manifest
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return nil, apperrors.NewValidationError("invalid "+FileName, err)
	}

	if m.Mode == "" {
		m.Mode = ModeBuiltin
	}
	for i := range m.Commands {
		if m.Commands[i].Match == "" {
			m.Commands[i].Match = MatchExact
		}
	}

	if err := validate.Struct(&m); err != nil {
		return nil, apperrors.NewValidationError("invalid "+FileName, err)
	}

	switch {
	case m.Mode == ModeBuiltin && len(m.Commands) == 0:
		return nil, apperrors.NewValidationError("builtin bots need at least one command", nil)
	case m.Mode == ModeProcess && m.Process == nil:
		return nil, apperrors.NewValidationError("process bots need a process section", nil)
	}

	if m.Process != nil {
		for name := range m.Process.Env {
			if strings.HasPrefix(name, ReservedEnvPrefix) {
				return nil, apperrors.NewValidationError("environment variable "+name+" is reserved", nil)
			}
		}
	}

	return &m, nil
}

// Reply returns the reply of the first command matching text.
// Matching is case-sensitive on the trimmed input.
func (m *Manifest) Reply(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	for _, cmd := range m.Commands {
		var hit bool
		switch cmd.Match {
		case MatchPrefix:
			hit = strings.HasPrefix(text, cmd.Trigger)
		case MatchContains:
			hit = strings.Contains(text, cmd.Trigger)
		default:
			hit = text == cmd.Trigger
		}
		if hit {
			return cmd.Reply, true
		}
	}

	return "", false
}

const defaultManifest = `mode: builtin
commands:
  - trigger: "!ping"
    reply: "🏓 Pong!"
  - trigger: "!مرحبا"
    reply: "مرحباً بك! 👋 كيف يمكنني مساعدتك؟"
`

// DefaultFiles returns the file mapping given to bots created without files.
func DefaultFiles() map[string]string {
	return map[string]string{FileName: defaultManifest}
}
