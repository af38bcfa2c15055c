package aggregate

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Instance is one experiment instance: a result folder and its catalog.
type Instance struct {
	Name        string // index shared by result folder and catalog, e.g. "7"
	ResultDir   string
	CatalogPath string
}

// DeadlineDirs returns the task and result directories for deadline ddl
// under workspace. Both must exist.
func DeadlineDirs(workspace string, ddl int) (taskDir, resultDir string, err error) {
	taskDir = filepath.Join(workspace, "task_files_ddl"+strconv.Itoa(ddl))
	resultDir = filepath.Join(workspace, "result_list_ddl"+strconv.Itoa(ddl))
	for _, dir := range []string{taskDir, resultDir} {
		info, statErr := os.Stat(dir)
		if statErr != nil {
			return "", "", fmt.Errorf("deadline %d: %w", ddl, statErr)
		}
		if !info.IsDir() {
			return "", "", fmt.Errorf("deadline %d: %s is not a directory", ddl, dir)
		}
	}
	return taskDir, resultDir, nil
}

// Discover pairs every resultPrefix<idx> folder of resultDir with
// catalogPrefix<idx>.csv in taskDir. Folders without a catalog are left out.
// Instances are returned in directory order.
func Discover(resultDir, taskDir, resultPrefix, catalogPrefix string) ([]Instance, error) {
	entries, err := os.ReadDir(resultDir)
	if err != nil {
		return nil, fmt.Errorf("read result dir: %w", err)
	}

	var instances []Instance
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), resultPrefix) {
			continue
		}
		idx := strings.TrimPrefix(e.Name(), resultPrefix)
		if idx == "" {
			continue
		}
		catalog := filepath.Join(taskDir, catalogPrefix+idx+".csv")
		if info, err := os.Stat(catalog); err != nil || info.IsDir() {
			continue
		}
		instances = append(instances, Instance{
			Name:        idx,
			ResultDir:   filepath.Join(resultDir, e.Name()),
			CatalogPath: catalog,
		})
	}
	return instances, nil
}
