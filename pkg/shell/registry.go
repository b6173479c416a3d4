package shell

import "fmt"

// CommandKind identifies a built-in command.
type CommandKind int

const (
	CmdRm CommandKind = iota
	CmdClearFS
	CmdMv
	CmdRun
	CmdExport
	CmdImport
	CmdHelp
	CmdClear
	CmdEcho
	CmdTheme
	CmdDate
	CmdAbout
	CmdResize
	CmdLs
	CmdTouch
	CmdCat
	CmdEdit
)

// Command is one registry entry.
type Command struct {
	Kind        CommandKind
	Name        string
	Description string
}

// commandTable is listed in help order.
var commandTable = []Command{
	{CmdRm, "rm", "Delete a file: rm <filename>"},
	{CmdClearFS, "clearfs", "Clear all saved files"},
	{CmdMv, "mv", "Rename a file: mv <old-filename> <new-filename>"},
	{CmdRun, "run", "Evaluate an expression: run <expression>"},
	{CmdExport, "export", "Export a file: export <filename>"},
	{CmdImport, "import", "Import a local file into the virtual filesystem"},
	{CmdHelp, "help", "Show available commands"},
	{CmdClear, "clear", "Clear the terminal"},
	{CmdEcho, "echo", "Echo the input"},
	{CmdTheme, "theme", "Change terminal theme color"},
	{CmdDate, "date", "Show current date and time"},
	{CmdAbout, "about", "About this terminal"},
	{CmdResize, "resize", "Simulate terminal resize"},
	{CmdLs, "ls", "List files in the virtual filesystem"},
	{CmdTouch, "touch", "Create a new file: touch <filename>"},
	{CmdCat, "cat", "Show file contents: cat <filename>"},
	{CmdEdit, "edit", "Edit a file: edit <filename>"},
}

var commandIndex = func() map[string]Command {
	idx := make(map[string]Command, len(commandTable))
	for _, c := range commandTable {
		idx[c.Name] = c
	}
	return idx
}()

// Lookup finds a command by its lower-case name.
func Lookup(name string) (Command, bool) {
	c, ok := commandIndex[name]
	return c, ok
}

// Commands returns the registry in help order.
func Commands() []Command {
	return append([]Command(nil), commandTable...)
}

// dispatch runs the handler for kind.
func (s *Session) dispatch(kind CommandKind, out *Output, args []string) error {
	switch kind {
	case CmdRm:
		return s.cmdRm(out, args)
	case CmdClearFS:
		return s.cmdClearFS(out, args)
	case CmdMv:
		return s.cmdMv(out, args)
	case CmdRun:
		return s.cmdRun(out, args)
	case CmdExport:
		return s.cmdExport(out, args)
	case CmdImport:
		return s.cmdImport(out, args)
	case CmdHelp:
		return s.cmdHelp(out, args)
	case CmdClear:
		return s.cmdClear(out, args)
	case CmdEcho:
		return s.cmdEcho(out, args)
	case CmdTheme:
		return s.cmdTheme(out, args)
	case CmdDate:
		return s.cmdDate(out, args)
	case CmdAbout:
		return s.cmdAbout(out, args)
	case CmdResize:
		return s.cmdResize(out, args)
	case CmdLs:
		return s.cmdLs(out, args)
	case CmdTouch:
		return s.cmdTouch(out, args)
	case CmdCat:
		return s.cmdCat(out, args)
	case CmdEdit:
		return s.cmdEdit(out, args)
	}
	return fmt.Errorf("unhandled command kind %d", kind)
}
