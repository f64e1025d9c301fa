package config

import (
	"bytes"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadTree reads a lockbox tree saved by SaveTree. A missing or empty file
// yields a nil tree and no error.
func LoadTree(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to read tree file %s", path)
	}

	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	tree := map[string]any{}
	err = yaml.Unmarshal(b, &tree)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tree from file %s", path)
	}

	return tree, nil
}

// SaveTree writes tree as YAML. The file is replaced atomically so that a
// crash never leaves a truncated tree behind.
func SaveTree(path string, tree map[string]any) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory %s", dir)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	err = enc.Encode(tree)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode tree for file %s", path)
	}
	err = enc.Close()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode tree for file %s", path)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temporary file in %s", dir)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	_, err = tmp.Write(buf.Bytes())
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write tree to %s", tmp.Name())
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to move tree into %s", path)
	}

	logrus.WithField("path", path).Trace("tree saved")

	return nil
}
