package shell

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	"github.com/antibyte/webterm/pkg/shared"
	"github.com/antibyte/webterm/pkg/store"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

// Themes are the accepted theme colours.
var Themes = []string{"cyan", "green", "purple", "red", "yellow"}

// FontSizes are the accepted output font sizes.
var FontSizes = []string{"sm", "base", "lg"}

// BackupFileName is the download name of a bulk filesystem export.
const BackupFileName = "virtualFS-backup.json"

// importAccept is the file picker filter for the import command.
const importAccept = ".txt,.md,.json,.js,.html,.css"

// InputMode tells which reply a session is waiting for.
type InputMode int

const (
	ModeShell InputMode = iota
	ModeEditor
	ModeConfirmClear
	ModeFilePicker
)

func (m InputMode) String() string {
	switch m {
	case ModeEditor:
		return "editor"
	case ModeConfirmClear:
		return "confirm"
	case ModeFilePicker:
		return "picker"
	}
	return "shell"
}

// Settings are the persisted display preferences.
type Settings struct {
	Theme    string
	Bg       string
	FontSize string
}

// Options configures a Session.
type Options struct {
	Prompt      string
	Welcome     string
	Defaults    Settings
	Backgrounds []string
	MaxHistory  int
	MaxSteps    uint64
	EvalTimeout time.Duration
	MaxResult   int // bytes
	MaxAlloc    int // bytes
	Now         func() time.Time
}

// OptionsFromConfig reads the [Terminal] and [Eval] sections.
func OptionsFromConfig() Options {
	return Options{
		Prompt:  configuration.GetString("Terminal", "prompt", "$"),
		Welcome: configuration.GetString("Terminal", "welcome_message", ""),
		Defaults: Settings{
			Theme:    configuration.GetString("Terminal", "default_theme", "cyan"),
			Bg:       configuration.GetString("Terminal", "default_bg", "gray-800"),
			FontSize: configuration.GetString("Terminal", "default_font", "base"),
		},
		Backgrounds: configuration.GetList("Terminal", "backgrounds", []string{"gray-800", "gray-900", "black"}),
		MaxHistory:  configuration.GetInt("Terminal", "max_history", 500),
		MaxSteps:    uint64(configuration.GetInt("Eval", "max_steps", 100000)),
		EvalTimeout: configuration.GetDuration("Eval", "timeout", 2*time.Second),
		MaxResult:   configuration.GetInt("Eval", "max_result_kb", 64) << 10,
		MaxAlloc:    configuration.GetInt("Eval", "max_alloc_kb", 4096) << 10,
	}
}

// Session is the state of one terminal: its files, settings, history and
// any pending modal interaction. Calls are serialised by an internal mutex.
type Session struct {
	mu sync.Mutex

	files    *virtualfs.FileMap
	store    store.Store
	settings Settings
	defaults Settings
	history  *History
	eval     *Evaluator

	mode    InputMode
	editing string

	prompt      string
	welcome     string
	backgrounds []string
	now         func() time.Time
}

// NewSession hydrates settings from st.
func NewSession(files *virtualfs.FileMap, st store.Store, opts Options) (*Session, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Prompt == "" {
		opts.Prompt = "$"
	}
	limits := EvalLimits{
		MaxSteps:  opts.MaxSteps,
		Timeout:   opts.EvalTimeout,
		MaxResult: opts.MaxResult,
		MaxAlloc:  opts.MaxAlloc,
	}
	s := &Session{
		files:       files,
		store:       st,
		history:     NewHistory(opts.MaxHistory),
		eval:        NewEvaluator(limits),
		prompt:      opts.Prompt,
		welcome:     opts.Welcome,
		backgrounds: opts.Backgrounds,
		now:         opts.Now,
		defaults:    opts.Defaults,
	}
	if !slices.Contains(Themes, s.defaults.Theme) {
		s.defaults.Theme = Themes[0]
	}
	if err := s.loadSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadSettings rereads the stored settings. Other sessions of the same
// profile may have changed them. Values that are no longer valid fall back
// to the defaults.
func (s *Session) loadSettings() error {
	settings := s.defaults
	load := func(key string, valid func(string) bool, dst *string) error {
		v, ok, err := s.store.Get(key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		if ok && valid(v) {
			*dst = v
		} else if ok {
			logger.Warn(logger.AreaShell, "Ignoring stored %s value %q", key, v)
		}
		return nil
	}
	if err := load(store.KeyTheme, s.validTheme, &settings.Theme); err != nil {
		return err
	}
	if err := load(store.KeyBg, s.validBg, &settings.Bg); err != nil {
		return err
	}
	if err := load(store.KeyFontSize, s.validFontSize, &settings.FontSize); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// Settings returns the current display settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Mode returns the pending interaction, if any.
func (s *Session) Mode() InputMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Files returns the session's file map.
func (s *Session) Files() *virtualfs.FileMap {
	return s.files
}

// Welcome returns the messages sent right after connecting.
func (s *Session) Welcome() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSettings(); err != nil {
		logger.Warn(logger.AreaShell, "Keeping cached settings: %v", err)
	}
	out := &Output{}
	out.Emit(s.settingsMessage())
	if s.welcome != "" {
		out.Append(s.welcome, false)
	}
	out.scroll()
	return out.Messages()
}

// ProcessLine handles one line of input.
func (s *Session) ProcessLine(line string) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(line) == "" {
		return nil
	}

	out := &Output{}
	s.abandonPending(out)
	s.history.Push(line)
	out.Append(fmt.Sprintf(`<span class="text-%s-400">%s</span> %s`, s.settings.Theme, Escape(s.prompt), Escape(line)), false)

	parts := strings.Split(line, " ")
	name := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := Lookup(name)
	if !ok {
		logger.Debug(logger.AreaShell, "Unknown command %q", name)
		out.Append(fmt.Sprintf("Command not found: %s. Type 'help' for available commands.", Escape(name)), true)
		metrics.ObserveCommand("unknown", "not_found", 0)
		out.scroll()
		return out.Messages()
	}

	start := time.Now()
	err := s.execute(cmd, out, args)
	s.report(out, err)
	metrics.ObserveCommand(cmd.Name, outcome(err), time.Since(start))
	out.scroll()
	return out.Messages()
}

// execute runs a handler and turns a panic into an error.
func (s *Session) execute(cmd Command, out *Output, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(logger.AreaShell, "Command %s panicked: %v", cmd.Name, r)
			err = fmt.Errorf("%v", r)
		}
	}()
	logger.Debug(logger.AreaShell, "Executing %s with args %q", cmd.Name, args)
	return s.dispatch(cmd.Kind, out, args)
}

// report renders a handler error as an error line.
func (s *Session) report(out *Output, err error) {
	if err == nil {
		return
	}
	var ce commandError
	if errors.As(err, &ce) {
		out.Append(ce.message(), true)
		return
	}
	logger.Error(logger.AreaShell, "Command failed: %v", err)
	out.Append("Error executing command: "+Escape(err.Error()), true)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ce commandError
	if errors.As(err, &ce) {
		return "rejected"
	}
	return "error"
}

// abandonPending cancels a modal interaction without touching any state.
func (s *Session) abandonPending(out *Output) {
	if s.mode == ModeShell {
		return
	}
	logger.Debug(logger.AreaShell, "Abandoning pending %s interaction", s.mode)
	s.resetMode()
	out.Emit(shared.Message{Type: shared.MessageTypeClose})
}

func (s *Session) resetMode() {
	s.mode = ModeShell
	s.editing = ""
}

// expect reports whether the session waits for mode, logging stray replies.
func (s *Session) expect(mode InputMode) bool {
	if s.mode != mode {
		logger.Warn(logger.AreaShell, "Ignoring %s reply while in %s mode", mode, s.mode)
		return false
	}
	return true
}

// finish closes a modal interaction and renders its result.
func (s *Session) finish(out *Output, err error) []shared.Message {
	s.resetMode()
	s.report(out, err)
	out.scroll()
	return out.Messages()
}

// SaveEdit stores the edited content of the file opened by edit.
func (s *Session) SaveEdit(content string) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeEditor) {
		return nil
	}
	out := &Output{}
	name := s.editing
	err := fileError(s.files.Write(name, content), name)
	if err == nil {
		out.Append(fmt.Sprintf("File '%s' updated.", Escape(name)), false)
	}
	return s.finish(out, err)
}

// CancelEdit closes the editor without saving.
func (s *Session) CancelEdit() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeEditor) {
		return nil
	}
	out := &Output{}
	out.Append("Edit cancelled.", false)
	return s.finish(out, nil)
}

// ConfirmClear answers the clearfs question.
func (s *Session) ConfirmClear(yes bool) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeConfirmClear) {
		return nil
	}
	out := &Output{}
	if !yes {
		out.Append("Clear cancelled.", false)
		return s.finish(out, nil)
	}
	err := s.files.Clear()
	if err == nil {
		out.Append("Virtual filesystem cleared.", false)
	}
	return s.finish(out, err)
}

// ImportFile stores a file chosen in the picker opened by import.
func (s *Session) ImportFile(name, content string) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeFilePicker) {
		return nil
	}
	out := &Output{}
	replaced := s.files.Exists(name)
	err := fileError(s.files.Write(name, content), name)
	if err == nil {
		if replaced {
			logger.Info(logger.AreaFileSystem, "Import replaced %s", name)
		} else {
			logger.Info(logger.AreaFileSystem, "Imported %s", name)
		}
		out.Append(fmt.Sprintf("File '%s' imported.", Escape(name)), false)
	}
	return s.finish(out, err)
}

// ImportFailed reports that the browser could not read the chosen file.
func (s *Session) ImportFailed(name string) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeFilePicker) {
		return nil
	}
	out := &Output{}
	out.Append(fmt.Sprintf("Failed to read file '%s'.", Escape(name)), true)
	return s.finish(out, nil)
}

// CancelImport reports that the picker was closed without a file.
func (s *Session) CancelImport() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expect(ModeFilePicker) {
		return nil
	}
	out := &Output{}
	out.Error("No file selected.")
	return s.finish(out, nil)
}

// HistoryUp loads the previous history entry into the input line.
func (s *Session) HistoryUp() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.history.Up()
	if !ok {
		return nil
	}
	return []shared.Message{{Type: shared.MessageTypeInput, Content: line}}
}

// HistoryDown loads the next history entry, or clears the input line.
func (s *Session) HistoryDown() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []shared.Message{{Type: shared.MessageTypeInput, Content: s.history.Down()}}
}

// ExportFilesystem returns the download of the whole file map.
func (s *Session) ExportFilesystem() []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Output{}
	data, err := s.files.ExportJSON()
	if err != nil {
		s.report(out, err)
		return out.Messages()
	}
	out.Emit(shared.Message{
		Type:     shared.MessageTypeDownload,
		FileName: BackupFileName,
		Content:  string(data),
		MimeType: "application/json",
	})
	return out.Messages()
}

// ImportFilesystem merges a bulk backup into the file map.
func (s *Session) ImportFilesystem(data []byte) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Output{}
	_, err := s.files.ImportJSON(data)
	if err = fileError(err, ""); err == nil {
		out.Append("Filesystem imported successfully.", false)
	}
	s.report(out, err)
	out.scroll()
	return out.Messages()
}

// ApplySetting changes one display setting from the settings panel.
func (s *Session) ApplySetting(name, value string) []shared.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Output{}

	var key string
	var dst *string
	var valid bool
	switch name {
	case "theme":
		key, dst, valid = store.KeyTheme, &s.settings.Theme, s.validTheme(value)
	case "bg":
		key, dst, valid = store.KeyBg, &s.settings.Bg, s.validBg(value)
	case "fontSize":
		key, dst, valid = store.KeyFontSize, &s.settings.FontSize, s.validFontSize(value)
	default:
		out.Append("Unknown setting: "+Escape(name), true)
		return out.Messages()
	}
	if !valid {
		out.Append(fmt.Sprintf("Invalid %s: %s", name, Escape(value)), true)
		return out.Messages()
	}
	if err := s.store.Set(key, value); err != nil {
		s.report(out, err)
		return out.Messages()
	}
	*dst = value
	logger.Info(logger.AreaShell, "Setting %s changed to %s", name, value)
	out.Emit(s.settingsMessage())
	return out.Messages()
}

func (s *Session) settingsMessage() shared.Message {
	return shared.Message{
		Type:     shared.MessageTypeSettings,
		Theme:    s.settings.Theme,
		Bg:       s.settings.Bg,
		FontSize: s.settings.FontSize,
		Content:  strings.Join(s.backgrounds, ","),
	}
}

func (s *Session) validTheme(v string) bool    { return slices.Contains(Themes, v) }
func (s *Session) validBg(v string) bool       { return slices.Contains(s.backgrounds, v) }
func (s *Session) validFontSize(v string) bool { return slices.Contains(FontSizes, v) }
