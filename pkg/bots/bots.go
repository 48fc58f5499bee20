// Package bots loads bot packages: a directory holding a bot.yaml manifest and
// a dialogs/ folder of .bas dialog sources.
package bots

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"botserver/pkg/script"
)

const (
	ManifestFile       = "bot.yaml"
	DialogsDir         = "dialogs"
	DialogExt          = ".bas"
	DefaultStartDialog = "start"
)

// Manifest is the parsed bot.yaml.
type Manifest struct {
	DisplayName string `yaml:"name"`
	Description string `yaml:"description"`
	StartDialog string `yaml:"start_dialog"`
	// MaxRetries overrides the configured retry limit for typed HEARs.
	MaxRetries int `yaml:"max_retries"`
}

// Bot is a loaded bot package with its compiled dialogs.
type Bot struct {
	name     string
	manifest Manifest
	dialogs  map[string]*script.Program
	broken   map[string]error
}

func (b *Bot) Name() string {
	return b.name
}

func (b *Bot) Manifest() Manifest {
	return b.manifest
}

// Dialog returns the compiled dialog with the given name.
func (b *Bot) Dialog(name string) (*script.Program, bool) {
	program, ok := b.dialogs[strings.ToLower(name)]
	return program, ok
}

// Dialogs lists the names of the dialogs that compiled.
func (b *Bot) Dialogs() []string {
	names := make([]string, 0, len(b.dialogs))
	for name := range b.dialogs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broken returns the dialogs that failed to compile, keyed by name.
func (b *Bot) Broken() map[string]error {
	out := make(map[string]error, len(b.broken))
	for name, err := range b.broken {
		out[name] = err
	}
	return out
}

// MaxRetries returns the manifest override, or fallback when unset.
func (b *Bot) MaxRetries(fallback int) int {
	if b.manifest.MaxRetries > 0 {
		return b.manifest.MaxRetries
	}
	return fallback
}

// Select picks the dialog a fresh command starts. Text naming a dialog, with
// or without a leading "/", selects it; anything else starts the bot's start
// dialog.
func (b *Bot) Select(text string) (*script.Program, error) {
	command := strings.TrimSpace(text)
	if fields := strings.Fields(command); len(fields) > 0 {
		command = strings.TrimPrefix(fields[0], "/")
		// Telegram appends the bot username to commands in groups.
		command, _, _ = strings.Cut(command, "@")
	}
	if command != "" {
		if program, ok := b.Dialog(command); ok {
			return program, nil
		}
	}

	start := b.manifest.StartDialog
	if program, ok := b.Dialog(start); ok {
		return program, nil
	}
	return nil, NewError(ErrorDialogNotFound, fmt.Sprintf("bot %s has no %q dialog", b.name, start))
}

// Load reads and compiles the bot package called name under the guard's
// root. A dialog that fails to compile is recorded in Broken and skipped;
// the rest of the bot still loads.
func Load(guard *Guard, name string, log *slog.Logger) (*Bot, error) {
	if !ValidName(name) {
		return nil, NewError(ErrorInvalidName, fmt.Sprintf("invalid bot name %q", name))
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bots.loader", "bot", name)

	manifestPath, err := guard.ResolvePath(name, ManifestFile)
	if err != nil {
		if CategoryFromError(err) == ErrorBotNotFound {
			return nil, NewError(ErrorBotNotFound, fmt.Sprintf("bot %s not found", name))
		}
		return nil, err
	}

	manifest, err := readManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		name:     name,
		manifest: manifest,
		dialogs:  make(map[string]*script.Program),
		broken:   make(map[string]error),
	}

	dialogsPath, err := guard.ResolvePath(name, DialogsDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dialogsPath)
	if err != nil {
		return nil, normalizeIOError(err, "read dialogs")
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), DialogExt) {
			continue
		}
		dialog := strings.ToLower(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		if !ValidName(dialog) {
			log.Warn("Skipping dialog with invalid name", "file", entry.Name())
			continue
		}

		program, err := loadDialog(guard, name, entry.Name(), dialog)
		if err != nil {
			bot.broken[dialog] = err
			log.Error("Dialog failed to compile", "dialog", dialog, "error", err)
			continue
		}
		bot.dialogs[dialog] = program
	}

	log.Info("Bot loaded", "dialogs", len(bot.dialogs), "broken", len(bot.broken))
	return bot, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, normalizeIOError(err, "read manifest")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, NewError(ErrorInvalidManifest, err.Error())
	}
	if manifest.MaxRetries < 0 {
		return Manifest{}, NewError(ErrorInvalidManifest, "max_retries must not be negative")
	}

	manifest.StartDialog = strings.ToLower(strings.TrimSpace(manifest.StartDialog))
	if manifest.StartDialog == "" {
		manifest.StartDialog = DefaultStartDialog
	}
	return manifest, nil
}

func loadDialog(guard *Guard, bot, file, dialog string) (*script.Program, error) {
	path, err := guard.ResolvePath(bot, DialogsDir, file)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, normalizeIOError(err, "read dialog")
	}
	return script.Compile(dialog, string(source))
}

// Catalog holds every bot found under a root directory.
type Catalog struct {
	bots map[string]*Bot
}

// LoadCatalog loads every directory under root that has a manifest. A bot
// that fails to load is logged and left out.
func LoadCatalog(root string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	guard, err := NewGuard(root)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(guard.Root())
	if err != nil {
		return nil, normalizeIOError(err, "read bots root")
	}

	catalog := &Catalog{bots: make(map[string]*Bot)}
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(guard.Root(), entry.Name(), ManifestFile)); errors.Is(err, os.ErrNotExist) {
			continue
		}

		bot, err := Load(guard, entry.Name(), log)
		if err != nil {
			log.Error("Bot failed to load", "component", "bots.loader", "bot", entry.Name(), "error", err)
			continue
		}
		catalog.bots[bot.Name()] = bot
	}
	return catalog, nil
}

// NewCatalog builds a catalog from already loaded bots.
func NewCatalog(loaded ...*Bot) *Catalog {
	catalog := &Catalog{bots: make(map[string]*Bot, len(loaded))}
	for _, bot := range loaded {
		catalog.bots[bot.Name()] = bot
	}
	return catalog
}

// Get returns the bot called name.
func (c *Catalog) Get(name string) (*Bot, error) {
	bot, ok := c.bots[name]
	if !ok {
		return nil, NewError(ErrorBotNotFound, fmt.Sprintf("bot %s not found", name))
	}
	return bot, nil
}

// Names lists the loaded bots.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.bots))
	for name := range c.bots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromSources builds a bot from in-memory dialog sources, for tests and the
// terminal chat.
func FromSources(name string, manifest Manifest, sources map[string]string) (*Bot, error) {
	if manifest.StartDialog == "" {
		manifest.StartDialog = DefaultStartDialog
	}
	bot := &Bot{
		name:     name,
		manifest: manifest,
		dialogs:  make(map[string]*script.Program),
		broken:   make(map[string]error),
	}
	for dialog, source := range sources {
		dialog = strings.ToLower(dialog)
		program, err := script.Compile(dialog, source)
		if err != nil {
			return nil, fmt.Errorf("compile %s/%s: %w", name, dialog, err)
		}
		bot.dialogs[dialog] = program
	}
	return bot, nil
}
