package engine

import (
	"path/filepath"

	"github.com/spaghettifunk/ember/engine/assets"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// ShaderLibrary keeps the loaded stages by binary path so a hot reload can
// swap the code behind a path. It is only used from the main thread.
type ShaderLibrary struct {
	dir     string
	shaders map[string]metadata.Shader
}

func NewShaderLibrary(dir string) *ShaderLibrary {
	return &ShaderLibrary{dir: dir, shaders: make(map[string]metadata.Shader)}
}

func (l *ShaderLibrary) Dir() string { return l.dir }

// Load returns the cached stage or reads "<dir>/<name>.<stage>.spv".
func (l *ShaderLibrary) Load(name string, stage metadata.ShaderStage) (metadata.Shader, error) {
	file, err := assets.ShaderFile(name, stage)
	if err != nil {
		return metadata.Shader{}, err
	}
	path := filepath.Join(l.dir, file)
	if s, ok := l.shaders[path]; ok {
		return s, nil
	}
	s, err := assets.LoadShaderFile(path, stage)
	if err != nil {
		return metadata.Shader{}, err
	}
	l.shaders[path] = s
	return s, nil
}

// ShaderRequest names one stage for LoadAll.
type ShaderRequest struct {
	Name  string
	Stage metadata.ShaderStage
}

// LoadAll reads the uncached stages of reqs on the job system and returns
// every stage in request order. Nothing is cached when a stage fails.
func (l *ShaderLibrary) LoadAll(jobs *core.JobSystem, reqs ...ShaderRequest) ([]metadata.Shader, error) {
	out := make([]metadata.Shader, len(reqs))
	var pending []core.Job
	for i, r := range reqs {
		file, err := assets.ShaderFile(r.Name, r.Stage)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(l.dir, file)
		if s, ok := l.shaders[path]; ok {
			out[i] = s
			continue
		}
		pending = append(pending, func() error {
			s, err := assets.LoadShaderFile(path, r.Stage)
			out[i] = s
			return err
		})
	}
	if err := jobs.Run(pending...); err != nil {
		return nil, err
	}
	for _, s := range out {
		l.shaders[s.Path] = s
	}
	core.LogDebug("loaded %d shader stages on %d workers", len(pending), jobs.Workers())
	return out, nil
}

// Register adds a stage that does not come from disk.
func (l *ShaderLibrary) Register(s metadata.Shader) {
	l.shaders[s.Path] = s
}

func (l *ShaderLibrary) Get(path string) (metadata.Shader, bool) {
	s, ok := l.shaders[path]
	return s, ok
}

// Reload rereads a stage that was loaded before. Unknown paths report false.
// On error the previous code stays in place.
func (l *ShaderLibrary) Reload(path string) (bool, error) {
	old, ok := l.shaders[path]
	if !ok {
		return false, nil
	}
	s, err := assets.LoadShaderFile(path, old.Reflection.Stage)
	if err != nil {
		return true, err
	}
	l.shaders[path] = s
	core.LogInfo("shader %s reloaded (%d bytes)", path, len(s.Code))
	return true, nil
}

func (l *ShaderLibrary) Len() int { return len(l.shaders) }
