package printer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/reactor"
)

// CommandHandler executes one parsed G-code command.
type CommandHandler func(gcmd *Command) error

// OutputHandler receives every response line.
type OutputHandler func(msg string)

type commandEntry struct {
	handler CommandHandler
	help    string
}

// GCode parses G-code scripts and dispatches them to registered commands.
// Scripts are serialized by a mutex; commands that run nested scripts use
// RunScriptFromCommand, which assumes the mutex is already held.
type GCode struct {
	printer *Printer
	log     *log.Logger
	mutex   *reactor.Mutex

	mu       sync.RWMutex
	commands map[string]commandEntry
	outputs  []OutputHandler
}

func newGCode(p *Printer, mutex *reactor.Mutex, logger *log.Logger) *GCode {
	g := &GCode{
		printer:  p,
		log:      logger,
		mutex:    mutex,
		commands: make(map[string]commandEntry),
	}
	g.commands["HELP"] = commandEntry{handler: g.cmdHelp, help: "Report the list of available extended G-Code commands"}
	return g
}

// RegisterCommand adds a handler for name. Names are case-insensitive and
// may only be registered once.
func (g *GCode) RegisterCommand(name string, handler CommandHandler, help string) error {
	name = strings.ToUpper(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.commands[name]; ok {
		return errors.ConfigValidationError("gcode", name, fmt.Sprintf("gcode command %s already registered", name))
	}
	g.commands[name] = commandEntry{handler: handler, help: help}
	return nil
}

// HasCommand reports whether name is registered.
func (g *GCode) HasCommand(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.commands[strings.ToUpper(name)]
	return ok
}

// RegisterOutputHandler adds a receiver for responses.
func (g *GCode) RegisterOutputHandler(fn OutputHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outputs = append(g.outputs, fn)
}

// Respond sends msg to every output handler.
func (g *GCode) Respond(msg string) {
	g.mu.RLock()
	outputs := append([]OutputHandler(nil), g.outputs...)
	g.mu.RUnlock()
	for _, fn := range outputs {
		fn(msg)
	}
}

// RespondInfo sends msg as an informational "// " response.
func (g *GCode) RespondInfo(msg string) {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	g.Respond("// " + strings.Join(lines, "\n// "))
}

// RespondError sends msg as an error "!! " response.
func (g *GCode) RespondError(msg string) {
	g.log.Warn("%s", msg)
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	g.Respond("!! " + strings.Join(lines, "\n!! "))
}

// RunScript runs a script line by line, stopping at the first error.
func (g *GCode) RunScript(script string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.runLines(script)
}

// RunScriptFromCommand runs a script from inside a command handler.
func (g *GCode) RunScriptFromCommand(script string) error {
	return g.runLines(script)
}

func (g *GCode) runLines(script string) error {
	for _, line := range strings.Split(script, "\n") {
		cmd, err := parseGCodeLine(line)
		if err != nil {
			return err
		}
		if cmd == nil {
			continue
		}
		if err := g.dispatch(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (g *GCode) dispatch(cmd *Command) error {
	g.mu.RLock()
	entry, ok := g.commands[cmd.Name]
	g.mu.RUnlock()
	if !ok {
		return errors.UnknownCommandError(cmd.Name)
	}
	cmd.gcode = g
	g.log.Debug("Executing: %s", cmd.Raw)
	return entry.handler(cmd)
}

func (g *GCode) cmdHelp(gcmd *Command) error {
	g.mu.RLock()
	names := make([]string, 0, len(g.commands))
	for name := range g.commands {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)

	lines := []string{"Available extended commands:"}
	for _, name := range names {
		g.mu.RLock()
		help := g.commands[name].help
		g.mu.RUnlock()
		if help != "" {
			lines = append(lines, fmt.Sprintf("%-10s: %s", name, help))
		}
	}
	gcmd.RespondInfo(strings.Join(lines, "\n"))
	return nil
}

// Command is one parsed G-code line.
type Command struct {
	Name   string
	Params map[string]string
	Raw    string

	gcode *GCode
}

// Has reports whether the parameter was given.
func (c *Command) Has(name string) bool {
	_, ok := c.Params[strings.ToUpper(name)]
	return ok
}

// Get returns a parameter or def.
func (c *Command) Get(name, def string) string {
	if v, ok := c.Params[strings.ToUpper(name)]; ok {
		return v
	}
	return def
}

// GetRequired returns a parameter that must be present and non-empty.
func (c *Command) GetRequired(name string) (string, error) {
	v, ok := c.Params[strings.ToUpper(name)]
	if !ok || v == "" {
		return "", errors.ParamError(c.Name, name, "must be specified")
	}
	return v, nil
}

// GetInt returns an integer parameter or def.
func (c *Command) GetInt(name string, def int) (int, error) {
	v, ok := c.Params[strings.ToUpper(name)]
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.ParamError(c.Name, name, fmt.Sprintf("unable to parse '%s' as an integer", v))
	}
	return i, nil
}

// RespondInfo sends an informational response.
func (c *Command) RespondInfo(msg string) {
	if c.gcode != nil {
		c.gcode.RespondInfo(msg)
	}
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// parseGCodeLine parses classic ("G28 X Y") and extended
// ("SET_TOOL_X_ENDSTOP TOOL=1") commands. Blank and comment-only lines
// return nil.
func parseGCodeLine(line string) (*Command, error) {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return nil, nil
	}

	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			k = strings.ToUpper(strings.TrimSpace(k))
			if k == "" {
				return nil, errors.ParamError(name, f, "malformed parameter")
			}
			args[k] = strings.TrimSpace(v)
			continue
		}
		args[strings.ToUpper(f[:1])] = f[1:]
	}
	return &Command{Name: name, Params: args, Raw: strings.TrimSpace(line)}, nil
}
