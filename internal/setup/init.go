// Package setup handles DES project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/msageha/des/internal/atomicfile"
	"github.com/msageha/des/internal/config"
	"github.com/msageha/des/templates"
)

const desDir = ".des"

// Run creates .des/ under projectDir with the default config.yaml and the
// audit, quarantine and steps directories. It returns the paths it created.
// An existing .des/ is an error unless force is set, in which case only the
// missing pieces are added and an existing config.yaml is kept.
func Run(afs afero.Fs, projectDir string, force bool) ([]string, error) {
	base := filepath.Join(projectDir, desDir)

	exists, err := afero.DirExists(afs, base)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", base, err)
	}
	if exists && !force {
		return nil, fmt.Errorf("%s already exists", base)
	}

	var created []string
	for _, d := range []string{"audit", "quarantine", "steps"} {
		dir := filepath.Join(base, d)
		ok, err := afero.DirExists(afs, dir)
		if err != nil {
			return created, fmt.Errorf("stat %s: %w", dir, err)
		}
		if ok {
			continue
		}
		if err := afs.MkdirAll(dir, 0o755); err != nil {
			return created, fmt.Errorf("create directory %s: %w", d, err)
		}
		created = append(created, dir)
	}

	cfgPath := filepath.Join(base, "config.yaml")
	if _, err := afs.Stat(cfgPath); err == nil {
		return created, nil
	} else if !os.IsNotExist(err) {
		return created, fmt.Errorf("stat %s: %w", cfgPath, err)
	}
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return created, fmt.Errorf("read config template: %w", err)
	}
	if err := atomicfile.Write(afs, cfgPath, data, validateConfig); err != nil {
		return created, fmt.Errorf("write config.yaml: %w", err)
	}
	return append(created, cfgPath), nil
}

func validateConfig(content []byte) error {
	_, err := config.Parse(content)
	return err
}
