package shell

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/shared"
	"github.com/antibyte/webterm/pkg/store"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

// dateLayout renders like a browser's Date.prototype.toString.
const dateLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

var aboutLines = []string{
	"Web Terminal v1.0",
	"A customizable terminal emulator for the web",
	"Served by Go over WebSockets with SQLite persistence",
}

// fileArg returns the first argument or a usage error naming the command.
func fileArg(cmd string, args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", &UsageError{Usage: fmt.Sprintf("Usage: %s <filename>", cmd)}
	}
	return args[0], nil
}

func (s *Session) cmdHelp(out *Output, _ []string) error {
	out.Append("Available commands:", false)
	for _, c := range commandTable {
		out.Append(fmt.Sprintf(`<span class="text-%s-400">%s</span> - %s`, s.settings.Theme, c.Name, Escape(c.Description)), false)
	}
	return nil
}

func (s *Session) cmdClear(out *Output, _ []string) error {
	out.Emit(shared.Message{Type: shared.MessageTypeClear})
	return nil
}

func (s *Session) cmdEcho(out *Output, args []string) error {
	out.AppendEscaped(strings.Join(args, " "), false)
	return nil
}

func (s *Session) cmdTheme(out *Output, args []string) error {
	available := strings.Join(Themes, ", ")
	if len(args) == 0 {
		if err := s.loadSettings(); err != nil {
			return err
		}
		out.Append("Current theme: "+s.settings.Theme, false)
		out.Append("Available themes: "+available, false)
		return nil
	}

	theme := strings.ToLower(args[0])
	if !slices.Contains(Themes, theme) {
		return &UsageError{Usage: fmt.Sprintf("Invalid theme: %s. Available themes: %s", theme, available)}
	}
	if err := s.store.Set(store.KeyTheme, theme); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	s.settings.Theme = theme
	out.Emit(shared.Message{Type: shared.MessageTypeTheme, Theme: theme})
	out.Append("Theme changed to "+theme, false)
	return nil
}

func (s *Session) cmdDate(out *Output, _ []string) error {
	out.AppendEscaped(s.now().Format(dateLayout), false)
	return nil
}

func (s *Session) cmdAbout(out *Output, _ []string) error {
	for _, line := range aboutLines {
		out.Append(line, false)
	}
	return nil
}

func (s *Session) cmdResize(out *Output, _ []string) error {
	out.Append("Terminal resized", false)
	return nil
}

func (s *Session) cmdLs(out *Output, _ []string) error {
	names := s.files.Names()
	if len(names) == 0 {
		out.Append("No files found.", false)
		return nil
	}
	for i, name := range names {
		names[i] = Escape(name)
	}
	out.Append(strings.Join(names, "  "), false)
	return nil
}

func (s *Session) cmdTouch(out *Output, args []string) error {
	name, err := fileArg("touch", args)
	if err != nil {
		return err
	}
	if err := s.files.Create(name); err != nil {
		return fileError(err, name)
	}
	logger.Info(logger.AreaFileSystem, "Created %s", name)
	out.Append(fmt.Sprintf("File '%s' created.", Escape(name)), false)
	return nil
}

func (s *Session) cmdCat(out *Output, args []string) error {
	name, err := fileArg("cat", args)
	if err != nil {
		return err
	}
	content, err := s.files.Read(name)
	if err != nil {
		return fileError(err, name)
	}
	out.Append("<pre>"+Escape(content)+"</pre>", false)
	return nil
}

func (s *Session) cmdEdit(out *Output, args []string) error {
	name, err := fileArg("edit", args)
	if err != nil {
		return err
	}
	content, err := s.files.Read(name)
	if err != nil {
		return fileError(err, name)
	}
	s.mode = ModeEditor
	s.editing = name
	out.Emit(shared.Message{
		Type:       shared.MessageTypeEditor,
		Content:    "Editing: " + Escape(name),
		FileName:   name,
		EditorData: Escape(content),
	})
	return nil
}

func (s *Session) cmdRm(out *Output, args []string) error {
	name, err := fileArg("rm", args)
	if err != nil {
		return err
	}
	if err := s.files.Remove(name); err != nil {
		return fileError(err, name)
	}
	logger.Info(logger.AreaFileSystem, "Deleted %s", name)
	out.Append(fmt.Sprintf("File '%s' deleted.", Escape(name)), false)
	return nil
}

func (s *Session) cmdMv(out *Output, args []string) error {
	if len(args) != 2 {
		return &UsageError{Usage: "Usage: mv <old-filename> <new-filename>"}
	}
	oldName, newName := args[0], args[1]
	if err := s.files.Rename(oldName, newName); err != nil {
		if errors.Is(err, virtualfs.ErrNotFound) {
			return &NotFoundError{Name: oldName}
		}
		return fileError(err, newName)
	}
	logger.Info(logger.AreaFileSystem, "Renamed %s to %s", oldName, newName)
	out.Append(fmt.Sprintf("Renamed '%s' to '%s'.", Escape(oldName), Escape(newName)), false)
	return nil
}

func (s *Session) cmdExport(out *Output, args []string) error {
	name, err := fileArg("export", args)
	if err != nil {
		return err
	}
	content, err := s.files.Read(name)
	if err != nil {
		return fileError(err, name)
	}
	out.Emit(shared.Message{
		Type:     shared.MessageTypeDownload,
		FileName: name,
		Content:  content,
		MimeType: "text/plain",
	})
	out.Append(fmt.Sprintf("File '%s' downloaded.", Escape(name)), false)
	return nil
}

func (s *Session) cmdImport(out *Output, _ []string) error {
	s.mode = ModeFilePicker
	out.Emit(shared.Message{Type: shared.MessageTypeFilePicker, Content: importAccept})
	return nil
}

func (s *Session) cmdClearFS(out *Output, _ []string) error {
	s.mode = ModeConfirmClear
	out.Emit(shared.Message{Type: shared.MessageTypeConfirm, Content: "Are you sure you want to delete all files?"})
	return nil
}

func (s *Session) cmdRun(out *Output, args []string) error {
	code := strings.Join(args, " ")
	if strings.TrimSpace(code) == "" {
		return &UsageError{Usage: "Usage: run <expression>"}
	}
	result, err := s.eval.Eval(code)
	if err != nil {
		logger.Debug(logger.AreaShell, "run failed: %v", err)
		return &EvaluationError{Err: err}
	}
	out.Append("Result: "+Escape(result), false)
	return nil
}
