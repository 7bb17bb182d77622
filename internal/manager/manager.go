// Package manager discovers and supervises sibling sd-* modules
// (server, watchers) so a single binary can start and stop the rest of
// the suite. Module state is persisted so status survives restarts.
package manager

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// Names matching the module pattern that are not supervisable modules.
var ignoredFilenames = map[string]bool{
	"sd-cli":    true,
	"sd-client": true,
	"sd-qt":     true,
}

// Module is a discovered sibling executable.
type Module struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ModuleState is the persisted run state of a module.
type ModuleState struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Config contains manager configuration
type Config struct {
	// ModuleDir is an extra directory searched for modules.
	ModuleDir string
	// StateFile overrides the persisted state location.
	StateFile string
}

// Manager discovers, starts and stops modules.
type Manager struct {
	config *Config
	logger *logrus.Logger

	mu    sync.Mutex
	state map[string]*ModuleState
}

// NewManager creates a module manager.
func NewManager(config *Config) (*Manager, error) {
	if config.StateFile == "" {
		dataDir, err := utils.GetDataDir("sd-watcher-window")
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeModule, "Failed to resolve data directory", err.Error())
		}
		config.StateFile = filepath.Join(dataDir, "modules.json")
	}

	m := &Manager{
		config: config,
		logger: utils.GetLogger(),
		state:  make(map[string]*ModuleState),
	}

	if err := m.loadState(); err != nil {
		return nil, err
	}
	return m, nil
}

// Discover returns the modules found next to the running binary, in the
// configured module dir and on PATH.
func (m *Manager) Discover() []Module {
	seen := make(map[string]Module)

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if m.config.ModuleDir != "" {
		dirs = append(dirs, m.config.ModuleDir)
	}
	dirs = append(dirs, filepath.SplitList(os.Getenv("PATH"))...)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			base := strings.TrimSuffix(name, ".exe")
			if !strings.HasPrefix(base, "sd-") || ignoredFilenames[base] {
				continue
			}
			path := filepath.Join(dir, name)
			if !isExecutable(path, name) {
				continue
			}
			// First hit wins, mirroring PATH resolution
			if _, ok := seen[base]; !ok {
				seen[base] = Module{Name: base, Path: path}
			}
		}
	}

	modules := make([]Module, 0, len(seen))
	for _, module := range seen {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })

	for _, module := range modules {
		m.logger.WithFields(logrus.Fields{"name": module.Name, "path": module.Path}).Debug("Discovered module")
	}
	return modules
}

// Start launches a module and records its PID.
func (m *Manager) Start(name string) error {
	module, err := m.find(name)
	if err != nil {
		return err
	}

	if state := m.Status(name); state.Running {
		return utils.NewAppError(utils.ErrCodeModule, "Module already running", name)
	}

	cmd := exec.Command(module.Path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return utils.NewAppError(utils.ErrCodeModule, "Failed to start module", err.Error())
	}

	m.mu.Lock()
	m.state[name] = &ModuleState{
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	// Reap the process when it exits on its own
	go func() {
		cmd.Wait()
		m.mu.Lock()
		if state, ok := m.state[name]; ok && state.PID == cmd.Process.Pid {
			state.Running = false
		}
		m.mu.Unlock()
		m.saveState()
	}()

	m.logger.WithFields(logrus.Fields{"name": name, "pid": cmd.Process.Pid}).Info("Module started")
	return m.saveState()
}

// Stop terminates a running module.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	state, ok := m.state[name]
	m.mu.Unlock()

	if !ok || !state.Running || !processAlive(state.PID) {
		return utils.NewAppError(utils.ErrCodeModule, "Module not running", name)
	}

	proc, err := os.FindProcess(state.PID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeModule, "Failed to find module process", err.Error())
	}

	if runtime.GOOS == "windows" {
		err = proc.Kill()
	} else {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		return utils.NewAppError(utils.ErrCodeModule, "Failed to stop module", err.Error())
	}

	m.mu.Lock()
	state.Running = false
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"name": name, "pid": state.PID}).Info("Module stopped")
	return m.saveState()
}

// Status reports the run state of a module, probing PID liveness so that
// state left by a previous run is not trusted blindly.
func (m *Manager) Status(name string) ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.state[name]
	if !ok {
		return ModuleState{}
	}
	if state.Running && !processAlive(state.PID) {
		state.Running = false
	}
	return *state
}

// StatusAll reports the run state of every known module.
func (m *Manager) StatusAll() map[string]ModuleState {
	names := make([]string, 0)
	m.mu.Lock()
	for name := range m.state {
		names = append(names, name)
	}
	m.mu.Unlock()

	out := make(map[string]ModuleState, len(names))
	for _, name := range names {
		out[name] = m.Status(name)
	}
	return out
}

func (m *Manager) find(name string) (*Module, error) {
	for _, module := range m.Discover() {
		if module.Name == name {
			return &module, nil
		}
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound, "Module not found", name)
}

func (m *Manager) loadState() error {
	data, err := os.ReadFile(m.config.StateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return utils.NewAppError(utils.ErrCodeModule, "Failed to read module state", err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := json.Unmarshal(data, &m.state); err != nil {
		// A corrupt state file is discarded, not fatal
		m.logger.WithError(err).Warn("Discarding corrupt module state file")
		m.state = make(map[string]*ModuleState)
	}
	return nil
}

func (m *Manager) saveState() error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.state, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeModule, "Failed to marshal module state", err.Error())
	}
	if err := os.WriteFile(m.config.StateFile, data, 0644); err != nil {
		return utils.NewAppError(utils.ErrCodeModule, "Failed to write module state", err.Error())
	}
	return nil
}

// isExecutable mirrors the platform rules: .exe on Windows, the
// executable bit elsewhere, never .desktop entries.
func isExecutable(path, filename string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return strings.HasSuffix(filename, ".exe")
	}
	if strings.HasSuffix(filename, ".desktop") {
		return false
	}
	return info.Mode()&0111 != 0
}
